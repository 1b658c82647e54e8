package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
	"github.com/openclaw/walletbridge-go/internal/httputil"
	"github.com/openclaw/walletbridge-go/internal/platform"
	"github.com/openclaw/walletbridge-go/internal/session"
)

type WalletHandler struct {
	negotiator  *session.Negotiator
	relay       *session.Relay
	connectRate func(http.Handler) http.Handler
}

func NewWalletHandler(negotiator *session.Negotiator, relay *session.Relay, connectRate func(http.Handler) http.Handler) *WalletHandler {
	return &WalletHandler{
		negotiator:  negotiator,
		relay:       relay,
		connectRate: connectRate,
	}
}

func (h *WalletHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.connectRate).Post("/connect", h.Connect)
	r.Get("/connection/{userID}", h.CheckConnection)
	r.Post("/disconnect", h.Disconnect)
	r.Post("/transactions/send", h.SendTransaction)

	return r
}

type connectRequest struct {
	UserID  string `json:"userId"`
	Surface string `json:"surface,omitempty"`
}

type connectResponse struct {
	SessionID    string                `json:"sessionId"`
	URI          string                `json:"uri"`
	IsManual     bool                  `json:"isManual"`
	ExpiresIn    int                   `json:"expiresIn"`
	Presentation platform.Presentation `json:"presentation"`
}

// POST /v1/connect
func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.UserID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userId"))
		return
	}

	result, err := h.negotiator.CreateSession(r.Context(), req.UserID)
	if err != nil {
		log.Error().Err(err).Str("userId", req.UserID).Msg("failed to create session")
		httputil.WriteError(w, err)
		return
	}

	surface := platform.Classify(req.Surface, r.UserAgent())
	httputil.WriteJSON(w, http.StatusOK, connectResponse{
		SessionID:    result.SessionID,
		URI:          result.URI,
		IsManual:     result.IsManual,
		ExpiresIn:    result.ExpiresIn,
		Presentation: platform.Present(surface, result.URI),
	})
}

// GET /v1/connection/{userID}
func (h *WalletHandler) CheckConnection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userID"))
		return
	}

	status := h.negotiator.CheckConnection(r.Context(), userID)
	httputil.WriteJSON(w, http.StatusOK, status)
}

type disconnectRequest struct {
	UserID string `json:"userId"`
}

// POST /v1/disconnect
func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.UserID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userId"))
		return
	}

	if err := h.negotiator.Disconnect(r.Context(), req.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type sendRequest struct {
	UserID      string            `json:"userId"`
	Description string            `json:"description,omitempty"`
	Tx          session.TxPayload `json:"tx"`
}

// POST /v1/transactions/send
func (h *WalletHandler) SendTransaction(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.UserID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userId"))
		return
	}
	if req.Tx.To == "" {
		httputil.WriteError(w, apperrors.MissingRequired("tx.to"))
		return
	}

	result, err := h.relay.Send(r.Context(), req.UserID, req.Tx, req.Description)
	if err != nil {
		log.Warn().Err(err).Str("userId", req.UserID).Msg("transaction relay failed")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
