package device

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// Instagram Android user agents (Jan 2025 builds). An account's user agent
// is picked deterministically from this catalog, so the catalog order is
// load-bearing: reordering entries changes every account's reported device.
var userAgents = []string{
	"Instagram 315.0.0.42.97 Android (33/13; 480dpi; 1080x2400; Xiaomi; 2201123G; lisa; qcom; en_US; 560107895)",
	"Instagram 314.0.0.37.120 Android (32/12; 420dpi; 1080x2340; samsung; SM-G998B; p3s; exynos2100; en_US; 558642214)",
	"Instagram 313.1.0.37.104 Android (31/12; 440dpi; 1080x2400; OnePlus; LE2121; OnePlus9Pro; qcom; en_US; 557512458)",
	"Instagram 312.0.0.42.109 Android (33/13; 560dpi; 1440x3200; Xiaomi; M2012K11AG; venus; qcom; en_US; 555841423)",
	"Instagram 311.0.0.41.109 Android (30/11; 480dpi; 1080x2400; OPPO; CPH2207; OP4F2F; qcom; en_US; 554147875)",
}

// Identity is the stable synthetic device presented for one account. Every
// field is derived from the account key alone, so the same account reports
// the same device on every request, in this process and after a restart.
type Identity struct {
	AccountKey    string
	DeviceID      string
	AndroidID     string
	FingerprintID string
	UserAgent     string
}

// Cache hands out one Identity per account key for the lifetime of the
// service instance. Entries are only ever added, never evicted.
type Cache struct {
	mu    sync.RWMutex
	byKey map[string]Identity
}

func NewCache() *Cache {
	return &Cache{byKey: make(map[string]Identity)}
}

// IdentityFor returns the cached identity for the account key, deriving it
// on first use.
func (c *Cache) IdentityFor(accountKey string) Identity {
	c.mu.RLock()
	id, ok := c.byKey[accountKey]
	c.mu.RUnlock()
	if ok {
		return id
	}

	id = derive(accountKey)

	c.mu.Lock()
	if cached, ok := c.byKey[accountKey]; ok {
		id = cached
	} else {
		c.byKey[accountKey] = id
	}
	c.mu.Unlock()
	return id
}

// Len reports how many identities have been derived so far.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

func derive(accountKey string) Identity {
	digest := sha256.Sum256([]byte(accountKey))

	// 16 bytes always form a valid UUID, FromBytes only rejects bad lengths.
	deviceUUID, _ := uuid.FromBytes(digest[:16])
	deviceID := deviceUUID.String()

	androidSum := md5.Sum([]byte(deviceID))
	androidID := "android-" + hex.EncodeToString(androidSum[:])[:16]

	midSum := sha1.Sum([]byte(deviceID))
	fingerprintID := hex.EncodeToString(midSum[:])[:20]

	uaIdx := binary.BigEndian.Uint64(digest[:8]) % uint64(len(userAgents))

	return Identity{
		AccountKey:    accountKey,
		DeviceID:      deviceID,
		AndroidID:     androidID,
		FingerprintID: fingerprintID,
		UserAgent:     userAgents[uaIdx],
	}
}
