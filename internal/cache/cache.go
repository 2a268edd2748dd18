// Package cache short-circuits repeated page checks with identical inputs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/pagecheck"
)

// Store holds result sets by key. Implementations treat backend failures as
// misses.
type Store interface {
	Get(ctx context.Context, key string) (pagecheck.ResultSet, bool)
	Set(ctx context.Context, key string, rs pagecheck.ResultSet)
}

// Key identifies a request by its URL, check set, search text and selector.
// Check order and duplicates do not change the key.
func Key(req pagecheck.Request) string {
	kinds := make([]string, 0, len(req.Checks))
	seen := make(map[pagecheck.Kind]bool, len(req.Checks))
	for _, k := range req.Checks {
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	h := sha256.New()
	h.Write([]byte(req.URL))
	h.Write([]byte{0})
	for _, k := range kinds {
		h.Write([]byte(k))
		h.Write([]byte{','})
	}
	h.Write([]byte{0})
	h.Write([]byte(req.SearchText))
	h.Write([]byte{0})
	h.Write([]byte(req.CustomSelector))
	return hex.EncodeToString(h.Sum(nil))
}

// ReadThrough serves repeated requests from a Store and falls back to the
// wrapped runner. Navigation failures are never stored.
type ReadThrough struct {
	next   pagecheck.Runner
	store  Store
	logger *zap.Logger
}

// NewReadThrough wraps next. Pass nil logger to discard logs.
func NewReadThrough(next pagecheck.Runner, store Store, logger *zap.Logger) *ReadThrough {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadThrough{next: next, store: store, logger: logger}
}

func (c *ReadThrough) Run(ctx context.Context, req pagecheck.Request) pagecheck.ResultSet {
	key := Key(req)
	if rs, ok := c.store.Get(ctx, key); ok {
		c.logger.Debug("page check served from cache", zap.String("url", req.URL))
		return rs
	}
	rs := c.next.Run(ctx, req)
	if !rs.Failed() {
		c.store.Set(ctx, key, rs)
	}
	return rs
}
