package walletconnect

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	uriPrefix = "wc:"

	// Legacy v1 URIs carry a bridge URL and a symmetric key; transcription
	// by hand tolerates no shorter values than these.
	minBridgeLength = 8
	minKeyLength    = 64

	manualKeyBytes = 32
)

// NewManualURI builds a self-contained legacy v1 pairing URI:
// wc:<session-id>@1?bridge=<url>&key=<hex>. The key is random and never
// reused; the wallet derives the channel from it on its own.
func NewManualURI(bridgeURL string) (string, error) {
	key := make([]byte, manualKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate pairing key: %w", err)
	}

	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s",
		uuid.NewString(),
		url.QueryEscape(bridgeURL),
		hex.EncodeToString(key),
	), nil
}

// ValidateURI loosely checks a pairing URI against the expected scheme: a
// recognized prefix, exactly a base and a query segment, and for the legacy
// v1 scheme a bridge and key of minimum length. Malformation is reported,
// not fatal: a human transcribes or scans the URI either way.
func ValidateURI(uri string) error {
	if !strings.HasPrefix(uri, uriPrefix) {
		return fmt.Errorf("pairing URI must start with %q", uriPrefix)
	}

	parts := strings.Split(uri, "?")
	if len(parts) != 2 {
		return fmt.Errorf("pairing URI must have exactly a base and a query segment")
	}

	base := strings.TrimPrefix(parts[0], uriPrefix)
	baseParts := strings.Split(base, "@")
	if len(baseParts) != 2 || baseParts[0] == "" || baseParts[1] == "" {
		return fmt.Errorf("pairing URI base must be <id>@<version>")
	}

	if baseParts[1] != "1" {
		// v2+ query contents are protocol-defined; nothing more to check.
		return nil
	}

	query, err := url.ParseQuery(parts[1])
	if err != nil {
		return fmt.Errorf("parse pairing URI query: %w", err)
	}

	if len(query.Get("bridge")) < minBridgeLength {
		return fmt.Errorf("v1 pairing URI bridge is missing or too short")
	}
	if len(query.Get("key")) < minKeyLength {
		return fmt.Errorf("v1 pairing URI key is missing or too short")
	}

	return nil
}
