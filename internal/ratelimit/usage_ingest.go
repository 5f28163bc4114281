package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaguard/internal/config"
)

const (
	keyIngestIdentity = "quotaguard:ingest:identity:%s"
	keyIngestGlobal   = "quotaguard:ingest:global"
)

// IngestLimiter throttles the usage ingestion endpoint per identity and
// across all callers. A nil limiter allows everything.
type IngestLimiter struct {
	bucket *TokenBucket

	identityRate  float64
	identityBurst int
	globalRate    float64
	globalBurst   int
}

func NewIngestLimiter(cfg config.Config, client *redis.Client) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("ingest identity rate limit must be positive")
	}
	if limitCfg.IngestGlobalRate <= 0 || limitCfg.IngestGlobalBurst <= 0 {
		return nil, errors.New("ingest global rate limit must be positive")
	}
	return &IngestLimiter{
		bucket:        NewTokenBucket(client),
		identityRate:  limitCfg.IngestRate,
		identityBurst: limitCfg.IngestBurst,
		globalRate:    limitCfg.IngestGlobalRate,
		globalBurst:   limitCfg.IngestGlobalBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IngestLimiter) AllowGlobal(ctx context.Context) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyIngestGlobal, l.globalRate, l.globalBurst)
}

func (l *IngestLimiter) AllowIdentity(ctx context.Context, identity string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestIdentity, identity), l.identityRate, l.identityBurst)
}
