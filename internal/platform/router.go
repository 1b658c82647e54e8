package platform

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

type Surface string

const (
	SurfaceMobile  Surface = "mobile"
	SurfaceDesktop Surface = "desktop"
	SurfaceUnknown Surface = "unknown"
)

const (
	StrategyDeepLink = "deeplink"
	StrategyQR       = "qr"
)

// Presentation tells the chat layer how to show a pairing URI: open a
// wallet deep link on mobile, render a QR code on desktop.
type Presentation struct {
	Strategy string `json:"strategy"`
	URI      string `json:"uri"`
	DeepLink string `json:"deepLink,omitempty"`
}

var mobileMarkers = []string{"android", "iphone", "ipad", "mobile"}

// Classify decides which surface is asking. An explicit hint from the chat
// layer wins; otherwise the user agent is sniffed, and unknown falls back
// to the QR strategy.
func Classify(hint, userAgent string) Surface {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "mobile":
		return SurfaceMobile
	case "desktop":
		return SurfaceDesktop
	}

	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return SurfaceMobile
		}
	}
	if userAgent != "" {
		return SurfaceDesktop
	}
	return SurfaceUnknown
}

// Present selects the presentation strategy for a pairing URI. Holds no
// session state; the URI passes through untouched.
func Present(surface Surface, uri string) Presentation {
	if surface == SurfaceMobile {
		link, err := walletconnect.DefaultDeepLink(uri)
		if err == nil {
			return Presentation{Strategy: StrategyDeepLink, URI: uri, DeepLink: link}
		}
		log.Warn().Err(err).Msg("deep link unavailable, falling back to QR presentation")
	}
	return Presentation{Strategy: StrategyQR, URI: uri}
}
