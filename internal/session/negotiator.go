package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
	"github.com/openclaw/walletbridge-go/internal/events"
	"github.com/openclaw/walletbridge-go/internal/model"
	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

const chainQueryTimeout = 10 * time.Second

type CreateSessionResult struct {
	SessionID string `json:"sessionId"`
	URI       string `json:"uri"`
	IsManual  bool   `json:"isManual"`
	ExpiresIn int    `json:"expiresIn"`
}

// Negotiator performs the out-of-band pairing handshake: it hands the user
// a pairing URI, waits for the wallet's asynchronous approval and marks the
// session connected exactly once, no matter which path observes the
// approval first.
type Negotiator struct {
	registry       *Registry
	client         walletconnect.Client // nil when no protocol client is configured
	broker         *events.Broker
	chainID        int64
	bridgeURL      string
	approvalWindow time.Duration
}

func NewNegotiator(
	registry *Registry,
	client walletconnect.Client,
	broker *events.Broker,
	chainID int64,
	bridgeURL string,
	approvalWindow time.Duration,
) *Negotiator {
	return &Negotiator{
		registry:       registry,
		client:         client,
		broker:         broker,
		chainID:        chainID,
		bridgeURL:      bridgeURL,
		approvalWindow: approvalWindow,
	}
}

// CreateSession opens a new pairing for userID. A previous session for the
// same user is superseded. When the protocol client is unavailable or the
// handshake cannot be opened, a manual fallback URI is generated instead:
// the user can still pair by copying it into a wallet, but the session is
// send-incapable.
func (n *Negotiator) CreateSession(ctx context.Context, userID string) (*CreateSessionResult, error) {
	s := n.registry.Create(ctx, userID)

	if n.client == nil {
		return n.createManual(s, "no signing protocol client configured")
	}

	pairing, err := n.client.Connect(ctx, walletconnect.ConnectParams{
		ChainID: n.chainID,
		Methods: walletconnect.SessionMethods,
	})
	if err != nil {
		return n.createManual(s, fmt.Sprintf("protocol handshake failed: %v", err))
	}

	handle := walletconnect.NewProtocolHandle(n.client, pairing)
	if !n.registry.AttachHandle(s.ID, handle, false) {
		// A newer create for the same user already won; this pairing is dead.
		n.closeHandleQuiet(handle)
		return nil, apperrors.SessionNotFound()
	}

	n.validateURI(pairing.URI)
	go n.watchApproval(s.ID, userID, handle, pairing.Approval)

	log.Info().
		Str("userId", userID).
		Str("sessionId", s.ID).
		Str("topic", pairing.Topic).
		Msg("pairing proposal created")

	return &CreateSessionResult{
		SessionID: s.ID,
		URI:       pairing.URI,
		ExpiresIn: int(n.approvalWindow.Seconds()),
	}, nil
}

func (n *Negotiator) createManual(s *model.Session, reason string) (*CreateSessionResult, error) {
	log.Warn().
		Str("userId", s.UserID).
		Str("reason", reason).
		Msg("falling back to manual pairing")

	uri, err := walletconnect.NewManualURI(n.bridgeURL)
	if err != nil {
		n.registry.Remove(s.ID)
		return nil, apperrors.Internal("Failed to generate pairing URI").WithCause(err)
	}

	handle := walletconnect.NewManualHandle(uri)
	if !n.registry.AttachHandle(s.ID, handle, true) {
		return nil, apperrors.SessionNotFound()
	}

	n.validateURI(uri)

	return &CreateSessionResult{
		SessionID: s.ID,
		URI:       uri,
		IsManual:  true,
		ExpiresIn: int(n.approvalWindow.Seconds()),
	}, nil
}

// watchApproval races the approval future against the approval window. The
// window bounds only the user-visible wait; a late approval still lands via
// MarkConnected unless the session has been superseded by then.
func (n *Negotiator) watchApproval(sessionID, userID string, handle *walletconnect.ProtocolHandle, approvalCh <-chan walletconnect.Approval) {
	timer := time.NewTimer(n.approvalWindow)
	defer timer.Stop()

	select {
	case approval, ok := <-approvalCh:
		if !ok {
			log.Warn().Str("sessionId", sessionID).Msg("approval channel closed without a decision")
			return
		}
		if approval.Err != nil {
			log.Info().
				Err(approval.Err).
				Str("userId", userID).
				Str("sessionId", sessionID).
				Msg("pairing declined")
			n.publish(userID, events.TypeConnectionDeclined, map[string]string{
				"userId": userID,
				"reason": approval.Err.Error(),
			})
			return
		}
		n.resolveApproval(sessionID, userID, handle, approval)

	case <-timer.C:
		log.Info().
			Str("userId", userID).
			Str("sessionId", sessionID).
			Msg("pairing approval window elapsed")
		n.publish(userID, events.TypeConnectionTimeout, map[string]string{
			"userId": userID,
			"reason": apperrors.ConnectionTimeout().Message,
		})
	}
}

func (n *Negotiator) resolveApproval(sessionID, userID string, handle *walletconnect.ProtocolHandle, approval walletconnect.Approval) {
	chainID := approval.ChainID
	if chainID == 0 || chainID != n.chainID {
		// The approval payload is not authoritative about the active
		// chain; ask the wallet directly and trust its answer.
		if queried, err := n.queryChainID(handle); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to query wallet chain id")
		} else if queried > 0 {
			chainID = queried
		}
	}

	handle.MarkApproved(approval.Accounts, chainID)

	var address string
	if len(approval.Accounts) > 0 {
		address = walletconnect.AccountAddress(approval.Accounts[0])
	}

	first, ok := n.registry.MarkConnected(sessionID, address, chainID)
	if !ok {
		log.Info().Str("sessionId", sessionID).Msg("approval for superseded session discarded")
		return
	}

	if chainID != n.chainID {
		log.Warn().
			Int64("chainId", chainID).
			Int64("expected", n.chainID).
			Str("userId", userID).
			Msg("wallet connected on unexpected chain")
	}

	if first {
		n.publishConnected(userID, sessionID, address, chainID)
	}
}

// CheckConnection is the poll path of the approval duality: before reading
// the stored state it folds in anything the handle already knows, routing
// through the same MarkConnected guard as the event path so the
// user-visible notification still fires at most once.
func (n *Negotiator) CheckConnection(ctx context.Context, userID string) ConnectionStatus {
	if sessionID, handle, ok := n.registry.UnconnectedHandle(userID); ok && handle.Connected() {
		var address string
		if accounts := handle.Accounts(); len(accounts) > 0 {
			address = walletconnect.AccountAddress(accounts[0])
		}
		if first, stored := n.registry.MarkConnected(sessionID, address, handle.ChainID()); stored && first {
			n.publishConnected(userID, sessionID, address, handle.ChainID())
		}
	}

	status := n.registry.CheckConnection(userID)
	if status.Connected && status.ChainID != n.chainID {
		status.Warning = apperrors.ChainMismatch(n.chainID, status.ChainID).Message
	}
	return status
}

// Disconnect tears down the user's session. The protocol-side disconnect is
// best-effort; the session is removed regardless.
func (n *Negotiator) Disconnect(ctx context.Context, userID string) error {
	s, ok := n.registry.Get(userID)
	if !ok {
		return apperrors.SessionNotFound()
	}

	n.registry.Remove(s.ID)

	if s.Handle != nil {
		if err := s.Handle.Close(ctx); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to disconnect pairing, session removed anyway")
		}
	}

	log.Info().Str("userId", userID).Str("sessionId", s.ID).Msg("session disconnected")
	return nil
}

func (n *Negotiator) queryChainID(handle *walletconnect.ProtocolHandle) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), chainQueryTimeout)
	defer cancel()

	raw, err := handle.SendRequest(ctx, "eth_chainId", nil)
	if err != nil {
		return 0, err
	}

	var quantity string
	if err := json.Unmarshal(raw, &quantity); err != nil {
		return 0, fmt.Errorf("decode eth_chainId result: %w", err)
	}
	return parseHexQuantity(quantity)
}

func (n *Negotiator) publishConnected(userID, sessionID, address string, chainID int64) {
	log.Info().
		Str("userId", userID).
		Str("sessionId", sessionID).
		Str("address", address).
		Int64("chainId", chainID).
		Msg("wallet connected")

	n.publish(userID, events.TypeWalletConnected, events.WalletConnectedPayload{
		UserID:    userID,
		Address:   address,
		ChainID:   chainID,
		SessionID: sessionID,
	})
}

func (n *Negotiator) publish(userID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.broker.Publish(ctx, userID, events.Event{Type: eventType, Data: data}); err != nil {
		log.Error().Err(err).Str("type", eventType).Str("userId", userID).Msg("failed to publish event")
	}
}

func (n *Negotiator) closeHandleQuiet(handle walletconnect.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), handleCloseTimeout)
	defer cancel()
	_ = handle.Close(ctx)
}

func (n *Negotiator) validateURI(uri string) {
	if err := walletconnect.ValidateURI(uri); err != nil {
		log.Warn().Err(err).Msg("pairing URI failed validation, returning as-is")
	}
}

func parseHexQuantity(q string) (int64, error) {
	q = strings.TrimPrefix(q, "0x")
	if q == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseInt(q, 16, 64)
}
