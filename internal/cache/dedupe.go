package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/ammario/tlru"
)

const defaultDedupeCapacity = 100_000

// Dedupe remembers keys for a bounded time so repeated signals (warning
// notifications, reconcile attempts) fire once per window.
type Dedupe interface {
	// FirstSeen marks key for ttl and reports whether it was absent.
	FirstSeen(key string, ttl time.Duration) bool
}

type dedupe struct {
	mu    sync.Mutex
	items *tlru.Cache[string, struct{}]
}

// NewDedupe returns an in-memory dedupe cache holding at most capacity keys.
func NewDedupe(capacity int) Dedupe {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	return &dedupe{
		items: tlru.New[string](tlru.ConstantCost[struct{}], capacity),
	}
}

func (d *dedupe) FirstSeen(key string, ttl time.Duration) bool {
	key = Key(key)
	if key == "" || ttl <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, _, ok := d.items.Get(key); ok {
		return false
	}
	d.items.Set(key, struct{}{}, ttl)
	return true
}

// Key joins the non-empty parts, lower-cased, with "|".
func Key(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
