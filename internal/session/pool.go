package session

import (
	"strings"
	"sync"
)

// Pool is a round-robin rotation over a fixed set of sessionid credentials.
// Every monitor task shares one pool, and rate-limit handling rotates it
// from many goroutines at once, so both operations take the lock.
type Pool struct {
	mu  sync.Mutex
	ids []string
	cur int
}

func NewPool(ids []string) *Pool {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	return &Pool{ids: cleaned}
}

// Current returns the credential in rotation, or "" for an empty pool.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return ""
	}
	return p.ids[p.cur]
}

// Rotate advances to the next credential. A no-op with fewer than two
// entries.
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) < 2 {
		return
	}
	p.cur = (p.cur + 1) % len(p.ids)
}

// Size reports how many credentials are in rotation.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
