package walletconnect

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
)

// Handle is the capability set a session exposes over its connection,
// regardless of whether the pairing is protocol-backed or manual.
type Handle interface {
	URI() string
	Topic() string
	Connected() bool
	Accounts() []string
	ChainID() int64
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close(ctx context.Context) error
}

// ProtocolHandle is a handle backed by a real protocol pairing. Its state
// flips to connected once the wallet approves the pairing.
type ProtocolHandle struct {
	mu       sync.RWMutex
	uri      string
	topic    string
	client   Client
	approved bool
	accounts []string
	chainID  int64
}

func NewProtocolHandle(client Client, pairing *Pairing) *ProtocolHandle {
	return &ProtocolHandle{
		uri:    pairing.URI,
		topic:  pairing.Topic,
		client: client,
	}
}

// MarkApproved records the wallet's approval. Called once per pairing.
func (h *ProtocolHandle) MarkApproved(accounts []string, chainID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approved = true
	h.accounts = accounts
	h.chainID = chainID
}

func (h *ProtocolHandle) URI() string {
	return h.uri
}

func (h *ProtocolHandle) Topic() string {
	return h.topic
}

func (h *ProtocolHandle) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.approved
}

func (h *ProtocolHandle) Accounts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.accounts
}

func (h *ProtocolHandle) ChainID() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.chainID
}

func (h *ProtocolHandle) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if h.topic == "" {
		return nil, apperrors.ProtocolConfig("Pairing has no topic; please reconnect")
	}
	return h.client.Request(ctx, h.topic, method, params)
}

func (h *ProtocolHandle) Close(ctx context.Context) error {
	if h.topic == "" {
		return nil
	}
	return h.client.Disconnect(ctx, h.topic)
}

// ManualHandle is the degraded pairing used when no protocol client is
// available. It carries a well-formed URI the user can copy into a wallet,
// but is send-incapable by contract.
type ManualHandle struct {
	uri string
}

func NewManualHandle(uri string) *ManualHandle {
	return &ManualHandle{uri: uri}
}

func (h *ManualHandle) URI() string {
	return h.uri
}

func (h *ManualHandle) Topic() string {
	return ""
}

func (h *ManualHandle) Connected() bool {
	return false
}

func (h *ManualHandle) Accounts() []string {
	return nil
}

func (h *ManualHandle) ChainID() int64 {
	return 0
}

func (h *ManualHandle) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return nil, apperrors.ProtocolConfig("Manual pairing cannot relay requests; use your wallet app directly")
}

func (h *ManualHandle) Close(ctx context.Context) error {
	return nil
}
