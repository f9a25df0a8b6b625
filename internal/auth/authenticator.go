// Package auth resolves API keys to the device they were issued to.
package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/config"
)

// KeyLookup is the shared key registry. An unknown key returns "".
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	deviceID  string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]string
	clock      clock.Clock
	log        *zap.Logger
}

// NewAuthenticator builds an authenticator. lookup may be nil, leaving
// only the static keys from config.
func NewAuthenticator(cfg *config.Config, lookup KeyLookup, c clock.Clock, log *zap.Logger) *Authenticator {
	staticKeys := make(map[string]string, len(cfg.ValidAPIKeys))
	for k, device := range cfg.ValidAPIKeys {
		if k != "" && device != "" {
			staticKeys[k] = device
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		clock:      c,
		log:        log,
	}
}

// Resolve returns the device bound to apiKey, or false when the key is
// unknown or the registry could not be reached.
func (a *Authenticator) Resolve(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}

	// Level 0: static config keys
	if device, ok := a.staticKeys[apiKey]; ok {
		return device, true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.clock.Now().Before(entry.expiresAt) {
			return entry.deviceID, true
		}
		a.localCache.Delete(apiKey)
	}

	if a.lookup == nil {
		return "", false
	}

	// Level 2: registry lookup
	deviceID, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", zap.Error(err))
		return "", false
	}
	if deviceID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		deviceID:  deviceID,
		expiresAt: a.clock.Now().Add(a.ttl),
	})

	return deviceID, true
}
