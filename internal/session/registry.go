package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
	"github.com/openclaw/walletbridge-go/internal/model"
	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

const (
	ReasonNoSession      = "No session found"
	ReasonSessionTimeout = "Session timeout"
)

const handleCloseTimeout = 5 * time.Second

// ConnectionStatus is the chat-facing view of a user's connection state.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	ChainID   int64  `json:"chainId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	IsManual  bool   `json:"isManual,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Registry owns the session and pending-transaction tables. The userID
// index and the session store are kept consistent under one lock; nothing
// outside this package mutates them directly.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*model.Session            // sessionID -> session
	byUser   map[string]string                    // userID -> sessionID
	pending  map[string]*model.PendingTransaction // sessionID -> current pending tx

	idleWindow    time.Duration
	sweepInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry(idleWindow, sweepInterval time.Duration) *Registry {
	return &Registry{
		sessions:      make(map[string]*model.Session),
		byUser:        make(map[string]string),
		pending:       make(map[string]*model.PendingTransaction),
		idleWindow:    idleWindow,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
}

// Start launches the periodic idle-session sweep.
func (r *Registry) Start() {
	go r.run()
	log.Info().
		Dur("idleWindow", r.idleWindow).
		Dur("sweepInterval", r.sweepInterval).
		Msg("session registry started")
}

// Shutdown stops the sweep and clears all tables.
func (r *Registry) Shutdown() {
	r.closeOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	handles := make([]walletconnect.Handle, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Handle != nil {
			handles = append(handles, s.Handle)
		}
	}
	r.sessions = make(map[string]*model.Session)
	r.byUser = make(map[string]string)
	r.pending = make(map[string]*model.PendingTransaction)
	r.mu.Unlock()

	for _, h := range handles {
		r.closeHandle(h)
	}
	log.Info().Msg("session registry stopped")
}

// Create allocates a new session for userID. An existing session for the
// same user is torn down first; disconnect failures are logged, never
// fatal. The last create wins as the authoritative session.
func (r *Registry) Create(ctx context.Context, userID string) *model.Session {
	now := time.Now()
	s := &model.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	var old *model.Session
	if oldID, ok := r.byUser[userID]; ok {
		old = r.sessions[oldID]
		r.removeLocked(oldID)
	}
	r.sessions[s.ID] = s
	r.byUser[userID] = s.ID
	r.mu.Unlock()

	if old != nil {
		log.Info().
			Str("userId", userID).
			Str("oldSessionId", old.ID).
			Str("sessionId", s.ID).
			Msg("superseding existing session")
		if old.Handle != nil {
			r.closeHandle(old.Handle)
		}
	}

	return s
}

// AttachHandle binds a connection handle to a stored session. Returns false
// if the session has already been removed.
func (r *Registry) AttachHandle(sessionID string, handle walletconnect.Handle, isManual bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.Handle = handle
	s.IsManual = isManual
	return true
}

// Get returns a snapshot of the live session for userID, if any. Copies
// keep callers from reading fields the registry mutates under its lock.
func (r *Registry) Get(userID string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byUser[userID]
	if !ok {
		return model.Session{}, false
	}
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// GetByID returns a snapshot of a session by its id.
func (r *Registry) GetByID(sessionID string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// UnconnectedHandle returns the session id and handle for userID when a
// stored session exists but has not yet been marked connected.
func (r *Registry) UnconnectedHandle(userID string) (string, walletconnect.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byUser[userID]
	if !ok {
		return "", nil, false
	}
	s, ok := r.sessions[id]
	if !ok || s.Connected || s.Handle == nil {
		return "", nil, false
	}
	return s.ID, s.Handle, true
}

// Touch refreshes a session's last-activity timestamp.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.LastActivity = time.Now()
	}
}

// MarkConnected is the single guarded mark-connected operation. Both the
// approval-future path and the poll path route through it; whichever runs
// first flips the one-shot notification guard and gets first=true. Returns
// ok=false when the session no longer exists (superseded or removed), in
// which case the late approval must be discarded.
func (r *Registry) MarkConnected(sessionID, address string, chainID int64) (first, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return false, false
	}

	s.Connected = true
	s.Address = address
	s.ChainID = chainID
	s.LastActivity = time.Now()

	if s.NotificationSent {
		return false, true
	}
	s.NotificationSent = true
	return true, true
}

// CheckConnection reports the stored connection state for userID. Expiry is
// checked lazily here: a session idle beyond the window is purged on access
// regardless of whether the sweep has run yet.
func (r *Registry) CheckConnection(userID string) ConnectionStatus {
	r.mu.Lock()

	id, ok := r.byUser[userID]
	if !ok {
		r.mu.Unlock()
		return ConnectionStatus{Connected: false, Reason: ReasonNoSession}
	}

	s := r.sessions[id]
	if time.Since(s.LastActivity) > r.idleWindow {
		r.removeLocked(id)
		r.mu.Unlock()

		log.Info().Str("userId", userID).Str("sessionId", id).Msg("session expired on access")
		if s.Handle != nil {
			r.closeHandle(s.Handle)
		}
		return ConnectionStatus{Connected: false, Reason: ReasonSessionTimeout}
	}

	status := ConnectionStatus{
		Connected: s.Connected,
		Address:   s.Address,
		ChainID:   s.ChainID,
		SessionID: s.ID,
		IsManual:  s.IsManual,
	}
	r.mu.Unlock()
	return status
}

// Remove deletes a session, its user index entry and any pending
// transaction. Idempotent.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID)
}

func (r *Registry) removeLocked(sessionID string) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	delete(r.pending, sessionID)
	if r.byUser[s.UserID] == sessionID {
		delete(r.byUser, s.UserID)
	}
}

// PutPending records a new in-flight signing request for a session. A
// session carries at most one pending transaction; a second request while
// one is still pending is rejected rather than silently overwritten.
func (r *Registry) PutPending(sessionID string, ptx *model.PendingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return apperrors.SessionNotFound()
	}
	if cur, ok := r.pending[sessionID]; ok && cur.Status == model.TxStatusPending {
		return apperrors.TransactionInProgress()
	}
	r.pending[sessionID] = ptx
	return nil
}

// CompletePending applies a resolution to a pending transaction, but only
// if txID is still the current pending record and still pending. A late
// wallet response for a since-replaced or removed record is discarded and
// reported as false.
func (r *Registry) CompletePending(sessionID, txID string, status model.TxStatus, txHash, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.pending[sessionID]
	if !ok || cur.ID != txID || cur.Status != model.TxStatusPending {
		return false
	}
	cur.Status = status
	cur.TxHash = txHash
	cur.Error = errMsg
	return true
}

// GetPending returns a snapshot of the current pending transaction for a
// session, if any.
func (r *Registry) GetPending(sessionID string) (model.PendingTransaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ptx, ok := r.pending[sessionID]
	if !ok {
		return model.PendingTransaction{}, false
	}
	return *ptx, true
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) run() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	var expired []*model.Session
	for id, s := range r.sessions {
		if time.Since(s.LastActivity) > r.idleWindow {
			expired = append(expired, s)
			r.removeLocked(id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		if s.Handle != nil {
			r.closeHandle(s.Handle)
		}
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("swept idle sessions")
	}
}

func (r *Registry) closeHandle(h walletconnect.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), handleCloseTimeout)
	defer cancel()

	if err := h.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to disconnect pairing, cleaning up anyway")
	}
}
