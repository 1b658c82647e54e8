package model

import (
	"time"

	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

// Session is one user's wallet pairing lifecycle. At most one live session
// exists per user id at any point in time.
type Session struct {
	ID               string               `json:"id"`
	UserID           string               `json:"userId"`
	Handle           walletconnect.Handle `json:"-"`
	Connected        bool                 `json:"connected"`
	Address          string               `json:"address,omitempty"`
	ChainID          int64                `json:"chainId,omitempty"`
	IsManual         bool                 `json:"isManual"`
	NotificationSent bool                 `json:"-"`
	CreatedAt        time.Time            `json:"createdAt"`
	LastActivity     time.Time            `json:"lastActivity"`
}

// TxRequest is the normalized payload submitted to the wallet for signing.
// All quantities are 0x-prefixed hex strings; ChainID is chain-qualified
// (eip155:<id>).
type TxRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data,omitempty"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	ChainID  string `json:"chainId,omitempty"`
}

// PendingTransaction is one in-flight signing request owned by a session.
// A session carries at most one pending transaction at a time.
type PendingTransaction struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Description string    `json:"description"`
	TxRequest   TxRequest `json:"txRequest"`
	Status      TxStatus  `json:"status"`
	TxHash      string    `json:"txHash,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
