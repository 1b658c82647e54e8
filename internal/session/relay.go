package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
	"github.com/openclaw/walletbridge-go/internal/model"
	"github.com/openclaw/walletbridge-go/internal/repository"
	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

const (
	txLogTimeout = 5 * time.Second

	// How long the timeout branch waits for an outcome that settled at
	// the same instant the timer fired.
	settleGrace = 100 * time.Millisecond
)

// TxPayload is the transaction produced by the contract facade. Quantities
// are 0x-prefixed hex strings; missing gas fields fall back to configured
// defaults.
type TxPayload struct {
	To       string `json:"to"`
	Data     string `json:"data,omitempty"`
	Value    string `json:"value,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

type SendResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	TxID    string `json:"txId"`
	Address string `json:"address,omitempty"`
}

// Relay submits signing requests to the user's wallet and races them
// against a fixed timeout. The protocol has no cancel primitive, so a
// request that loses the race keeps running; its late resolution is
// detected via the pending-transaction currency check and discarded.
type Relay struct {
	registry        *Registry
	negotiator      *Negotiator
	txLog           repository.TransactionLogRepository // nil when audit logging is disabled
	chainID         int64
	defaultGas      string
	defaultGasPrice string
	timeout         time.Duration
}

func NewRelay(
	registry *Registry,
	negotiator *Negotiator,
	txLog repository.TransactionLogRepository,
	chainID int64,
	defaultGas, defaultGasPrice string,
	timeout time.Duration,
) *Relay {
	return &Relay{
		registry:        registry,
		negotiator:      negotiator,
		txLog:           txLog,
		chainID:         chainID,
		defaultGas:      defaultGas,
		defaultGasPrice: defaultGasPrice,
		timeout:         timeout,
	}
}

type walletOutcome struct {
	hash string
	err  error
}

// Send relays one transaction to the user's wallet for signing and waits
// for the hash, a rejection, or the timeout, whichever settles first.
func (r *Relay) Send(ctx context.Context, userID string, payload TxPayload, description string) (*SendResult, error) {
	status := r.negotiator.CheckConnection(ctx, userID)
	if !status.Connected {
		return nil, apperrors.WalletNotConnected().WithDetails(status.Reason)
	}

	s, ok := r.registry.Get(userID)
	if !ok {
		return nil, apperrors.WalletNotConnected()
	}

	handle := s.Handle
	if handle == nil || handle.Topic() == "" {
		return nil, apperrors.ProtocolConfig("Wallet session cannot relay transactions; please reconnect")
	}

	txReq := r.normalize(s.Address, payload)
	ptx := &model.PendingTransaction{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		Description: description,
		TxRequest:   txReq,
		Status:      model.TxStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := r.registry.PutPending(s.ID, ptx); err != nil {
		return nil, err
	}

	r.hintWalletRedirect(userID, handle)

	log.Info().
		Str("userId", userID).
		Str("txId", ptx.ID).
		Str("to", txReq.To).
		Str("description", description).
		Msg("relaying transaction to wallet")

	resultCh := make(chan walletOutcome, 1)
	go r.submit(context.WithoutCancel(ctx), s.ID, ptx.ID, handle, txReq, resultCh)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case out := <-resultCh:
		return r.settle(userID, s, ptx, out)

	case <-timer.C:
		if !r.registry.CompletePending(s.ID, ptx.ID, model.TxStatusFailed, "", apperrors.TransactionTimeout().Message) {
			// The wallet settled in the same instant the timer fired;
			// prefer its outcome if it arrives promptly.
			select {
			case out := <-resultCh:
				return r.settle(userID, s, ptx, out)
			case <-time.After(settleGrace):
			}
		}

		log.Warn().
			Str("userId", userID).
			Str("txId", ptx.ID).
			Dur("timeout", r.timeout).
			Msg("transaction signing timed out; any late wallet response will be discarded")

		r.logOutcome(userID, ptx, model.TxStatusFailed, "", apperrors.TransactionTimeout().Message)
		return nil, apperrors.TransactionTimeout()

	case <-ctx.Done():
		r.registry.CompletePending(s.ID, ptx.ID, model.TxStatusFailed, "", ctx.Err().Error())
		return nil, apperrors.TransactionFailed(ctx.Err())
	}
}

// submit runs the uncancellable wallet request. The currency check in
// CompletePending decides whether its outcome is still wanted; an outcome
// for a superseded pending record is dropped without reaching the caller.
func (r *Relay) submit(ctx context.Context, sessionID, txID string, handle walletconnect.Handle, txReq model.TxRequest, resultCh chan<- walletOutcome) {
	raw, err := handle.SendRequest(ctx, "eth_sendTransaction", []model.TxRequest{txReq})
	if err != nil {
		if r.registry.CompletePending(sessionID, txID, model.TxStatusFailed, "", err.Error()) {
			resultCh <- walletOutcome{err: err}
		} else {
			log.Info().Str("txId", txID).Err(err).Msg("late wallet failure discarded")
		}
		return
	}

	hash := decodeTxHash(raw)
	if r.registry.CompletePending(sessionID, txID, model.TxStatusSent, hash, "") {
		resultCh <- walletOutcome{hash: hash}
	} else {
		log.Info().Str("txId", txID).Str("txHash", hash).Msg("late wallet success discarded")
	}
}

func (r *Relay) settle(userID string, s model.Session, ptx *model.PendingTransaction, out walletOutcome) (*SendResult, error) {
	if out.err != nil {
		appErr := classifySendError(out.err)
		r.logOutcome(userID, ptx, model.TxStatusFailed, "", out.err.Error())
		return nil, appErr
	}

	r.registry.Touch(s.ID)
	r.logOutcome(userID, ptx, model.TxStatusSent, out.hash, "")

	log.Info().
		Str("userId", userID).
		Str("txId", ptx.ID).
		Str("txHash", out.hash).
		Msg("transaction sent")

	return &SendResult{
		Success: true,
		TxHash:  out.hash,
		TxID:    ptx.ID,
		Address: s.Address,
	}, nil
}

func (r *Relay) normalize(from string, payload TxPayload) model.TxRequest {
	txReq := model.TxRequest{
		From:     from,
		To:       payload.To,
		Data:     payload.Data,
		Value:    payload.Value,
		Gas:      payload.GasLimit,
		GasPrice: payload.GasPrice,
		ChainID:  fmt.Sprintf("eip155:%d", r.chainID),
	}
	if txReq.Gas == "" {
		txReq.Gas = r.defaultGas
	}
	if txReq.GasPrice == "" {
		txReq.GasPrice = r.defaultGasPrice
	}
	return txReq
}

// hintWalletRedirect is a best-effort side channel: a deep link that pops
// the wallet app open next to the signing prompt. Failures never affect
// the relay outcome.
func (r *Relay) hintWalletRedirect(userID string, handle walletconnect.Handle) {
	link, err := walletconnect.DefaultDeepLink(handle.URI())
	if err != nil {
		log.Debug().Err(err).Str("userId", userID).Msg("no wallet redirect available")
		return
	}
	log.Debug().Str("userId", userID).Str("deepLink", link).Msg("wallet redirect hint")
}

func (r *Relay) logOutcome(userID string, ptx *model.PendingTransaction, status model.TxStatus, txHash, errMsg string) {
	if r.txLog == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), txLogTimeout)
	defer cancel()

	err := r.txLog.Insert(ctx, repository.InsertTransactionLogParams{
		TxID:        ptx.ID,
		UserID:      userID,
		SessionID:   ptx.SessionID,
		Description: ptx.Description,
		Status:      status,
		TxHash:      txHash,
		Error:       errMsg,
	})
	if err != nil {
		log.Error().Err(err).Str("txId", ptx.ID).Msg("failed to append transaction log")
	}
}

// classifySendError maps a wallet/protocol failure onto the outcome
// taxonomy, preserving the original message for diagnostics.
func classifySendError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"reject", "denied", "declined", "cancel"} {
		if strings.Contains(msg, marker) {
			return apperrors.TransactionRejected().WithCause(err)
		}
	}
	return apperrors.TransactionFailed(err)
}

func decodeTxHash(raw json.RawMessage) string {
	var hash string
	if err := json.Unmarshal(raw, &hash); err == nil {
		return hash
	}
	return strings.Trim(string(raw), `"`)
}
