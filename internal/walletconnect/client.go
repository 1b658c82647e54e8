package walletconnect

import (
	"context"
	"encoding/json"
	"strings"
)

// SessionMethods is the fixed method set requested on every pairing proposal.
var SessionMethods = []string{
	"eth_sendTransaction",
	"eth_signTransaction",
	"personal_sign",
	"eth_signTypedData",
	"eth_chainId",
}

// ConnectParams scopes a pairing proposal to a chain and a method set.
type ConnectParams struct {
	ChainID int64
	Methods []string
}

// Approval is the outcome of the wallet user's accept/decline decision on a
// pairing request. Accounts may be chain-qualified (eip155:97:0x...).
type Approval struct {
	Accounts []string
	ChainID  int64
	Err      error
}

// Pairing is an open pairing proposal: the out-of-band URI the wallet
// consumes, the topic later requests are addressed to, and the approval
// future. The Approval channel delivers exactly one value.
type Pairing struct {
	URI      string
	Topic    string
	Approval <-chan Approval
}

// Client is the boundary to the signing-protocol implementation. The
// protocol's cryptography and transport live behind it; this package only
// negotiates pairings and relays requests.
type Client interface {
	// Connect opens a pairing proposal and returns its URI, topic and
	// approval future.
	Connect(ctx context.Context, params ConnectParams) (*Pairing, error)

	// Request sends a method call to the wallet over an established
	// pairing. The protocol has no cancel primitive: ctx bounds only the
	// caller's wait, not the wallet's side.
	Request(ctx context.Context, topic, method string, params any) (json.RawMessage, error)

	// Disconnect tears down an established pairing. Best-effort.
	Disconnect(ctx context.Context, topic string) error
}

// AccountAddress extracts the bare address from an authorized account
// string, which may be chain-qualified (eip155:97:0xAAA) or bare (0xAAA).
func AccountAddress(account string) string {
	if idx := strings.LastIndex(account, ":"); idx >= 0 {
		return account[idx+1:]
	}
	return account
}
