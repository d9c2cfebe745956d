package headers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"

	http "github.com/bogdanfinn/fhttp"

	"github.com/yourneighborhoodchef/igmon/internal/device"
)

const appID = "936619743392459"

// Canonical header order of the Instagram Android app's OkHttp stack.
// Some endpoints fingerprint header order, so it is reproduced verbatim
// on every request.
var headerOrder = []string{
	"User-Agent",
	"X-IG-App-ID",
	"X-IG-Device-ID",
	"X-IG-Android-ID",
	"X-IG-App-Locale",
	"X-IG-Device-Locale",
	"X-IG-Mapped-Locale",
	"X-IG-Connection-Type",
	"X-IG-Capabilities",
	"X-IG-App-Startup-Country",
	"X-Bloks-Version-Id",
	"X-IG-WWW-Claim",
	"X-Bloks-Is-Layout-RTL",
	"X-IG-Connection-Speed",
	"X-IG-Bandwidth-Speed-KBPS",
	"X-IG-Bandwidth-TotalBytes-B",
	"X-IG-Bandwidth-TotalTime-MS",
	"X-IG-EU-DC-ENABLED",
	"X-IG-Extended-CDN-Thumbnail-Cache-Busting-Value",
	"X-Mid",
	"Accept-Language",
	"Accept-Encoding",
	"Accept",
	"Connection",
	"Cookie",
}

// Builder assembles the outbound header set for one request, mixing the
// stable device identity with call-scoped measurement fields.
type Builder struct {
	identities *device.Cache
}

func NewBuilder(identities *device.Cache) *Builder {
	return &Builder{identities: identities}
}

// Build returns the full header set for one profile request. Identity
// fields are stable per account; bandwidth figures represent a live
// measurement and vary per call within plausible bounds. The session
// credential rides in the sessionid cookie.
func (b *Builder) Build(accountKey, sessionID string) http.Header {
	id := b.identities.IdentityFor(accountKey)

	// The Bloks version tracks an app build, not the clock. Deriving it
	// from the device id keeps it stable across calls; a time-derived
	// token would leak the polling frequency.
	bloksSum := sha256.Sum256([]byte(id.DeviceID))
	bloksVersion := hex.EncodeToString(bloksSum[:])[:32]

	connSpeed := rand.Intn(2000) + 1000
	bwSpeedKBPS := rand.Float64()*3000 + 2000
	bwTotalBytes := rand.Intn(5_000_000) + 5_000_000
	bwTotalMS := rand.Intn(300) + 200
	cacheBust := rand.Intn(9000) + 1000

	h := http.Header{}
	h.Set("User-Agent", id.UserAgent)
	h.Set("X-IG-App-ID", appID)
	h.Set("X-IG-Device-ID", id.DeviceID)
	h.Set("X-IG-Android-ID", id.AndroidID)
	h.Set("X-IG-App-Locale", "en_US")
	h.Set("X-IG-Device-Locale", "en_US")
	h.Set("X-IG-Mapped-Locale", "en_US")
	h.Set("X-IG-Connection-Type", "WIFI")
	h.Set("X-IG-Capabilities", "3brTv10=")
	h.Set("X-IG-App-Startup-Country", "US")
	h.Set("X-Bloks-Version-Id", bloksVersion)
	h.Set("X-IG-WWW-Claim", "0")
	h.Set("X-Bloks-Is-Layout-RTL", "false")
	h.Set("X-IG-Connection-Speed", fmt.Sprintf("%dkbps", connSpeed))
	h.Set("X-IG-Bandwidth-Speed-KBPS", strconv.FormatFloat(bwSpeedKBPS, 'f', 3, 64))
	h.Set("X-IG-Bandwidth-TotalBytes-B", strconv.Itoa(bwTotalBytes))
	h.Set("X-IG-Bandwidth-TotalTime-MS", strconv.Itoa(bwTotalMS))
	h.Set("X-IG-EU-DC-ENABLED", "true")
	h.Set("X-IG-Extended-CDN-Thumbnail-Cache-Busting-Value", strconv.Itoa(cacheBust))
	h.Set("X-Mid", id.FingerprintID)
	h.Set("Accept-Language", "en-US")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Accept", "*/*")
	h.Set("Connection", "keep-alive")
	h.Set("Cookie", "sessionid="+sessionID)

	h[http.HeaderOrderKey] = headerOrder

	return h
}

// Order returns the canonical header order. Exposed for tests.
func Order() []string {
	out := make([]string, len(headerOrder))
	copy(out, headerOrder)
	return out
}
