package rules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"auditgate/internal/models"
	"auditgate/internal/repository"
)

// Store caches the active rule set ordered by (priority, id). Readers get a
// consistent snapshot for the whole of an Evaluate call; writes through the
// rules API call Invalidate so the next read refetches.
type Store struct {
	Repo   repository.Repository
	Logger *zap.Logger
	TTL    time.Duration

	mu       sync.RWMutex
	cached   []models.AuditRule
	loadedAt time.Time
}

// Active returns the current rule-set snapshot. The returned slice must be
// treated as read-only.
func (s *Store) Active(ctx context.Context) ([]models.AuditRule, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	s.mu.RLock()
	cached, loadedAt := s.cached, s.loadedAt
	s.mu.RUnlock()
	if cached != nil && time.Since(loadedAt) < ttl {
		return cached, nil
	}

	items, err := s.Repo.ListActiveAuditRules(ctx)
	if err != nil {
		// Serve the stale snapshot if we have one; rules are read-mostly.
		if cached != nil {
			if s.Logger != nil {
				s.Logger.Warn("rule reload failed, serving stale snapshot", zap.Error(err))
			}
			return cached, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cached = items
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return items, nil
}

// Invalidate drops the cached snapshot so the next Active call reloads.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}
