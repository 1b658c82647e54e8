package walletconnect

import (
	"fmt"
	"net/url"
)

// Universal-link bases for common wallet apps. The pairing URI rides along
// as a query parameter.
var walletDeepLinks = map[string]string{
	"metamask": "https://metamask.app.link/wc",
	"trust":    "https://link.trustwallet.com/wc",
}

const defaultWallet = "metamask"

// DeepLink builds a wallet-app deep link carrying the pairing URI. This is
// a best-effort side channel; callers treat failures as non-fatal.
func DeepLink(wallet, uri string) (string, error) {
	base, ok := walletDeepLinks[wallet]
	if !ok {
		return "", fmt.Errorf("unknown wallet %q", wallet)
	}
	if uri == "" {
		return "", fmt.Errorf("empty pairing URI")
	}
	return fmt.Sprintf("%s?uri=%s", base, url.QueryEscape(uri)), nil
}

// DefaultDeepLink builds a deep link for the default wallet app.
func DefaultDeepLink(uri string) (string, error) {
	return DeepLink(defaultWallet, uri)
}

// KnownWallets lists the wallet apps a deep link can target.
func KnownWallets() []string {
	wallets := make([]string, 0, len(walletDeepLinks))
	for name := range walletDeepLinks {
		wallets = append(wallets, name)
	}
	return wallets
}
