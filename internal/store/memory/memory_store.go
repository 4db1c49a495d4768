// Package memory implements store.AlertStore using an in-process map.
// Designed for tests and as a graceful-degradation fallback when the
// configured durable backend (sqlite/postgres) is unreachable.
//
// WARNING: Data is NOT persisted - lost on restart, crash, or pod eviction.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/store"
)

const defaultCapacity = 10000

// Store is an in-memory, FIFO-bounded implementation of store.AlertStore.
type Store struct {
	mu       sync.RWMutex
	contexts map[alertmodel.AlertId]alertmodel.AlertContext
	order    []alertmodel.AlertId // insertion order, for FIFO eviction
	nextId   alertmodel.AlertId
	logger   *slog.Logger
	capacity int
}

// New creates in-memory storage with the default capacity limit. Logs a
// warning on creation: this backend never survives a restart.
func New(logger *slog.Logger) *Store {
	logger.Warn("in-memory alert store created, data will NOT persist across restarts")
	logger.Warn("use only for tests or as a degraded-mode fallback")

	return &Store{
		contexts: make(map[alertmodel.AlertId]alertmodel.AlertContext),
		logger:   logger,
		capacity: defaultCapacity,
	}
}

var _ store.AlertStore = (*Store)(nil)

func (s *Store) Insert(ctx context.Context, alerts []alertmodel.Alert) ([]alertmodel.AlertId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := uint64(time.Now().Unix())
	ids := make([]alertmodel.AlertId, 0, len(alerts))

	for _, a := range alerts {
		if len(s.contexts) >= s.capacity {
			s.evictOldestLocked()
		}
		s.nextId++
		id := s.nextId
		s.contexts[id] = alertmodel.NewAlertContext(id, a, now)
		s.order = append(s.order, id)
		ids = append(ids, id)

		s.logger.Debug("alert inserted (memory)", "id", id, "alertname", a.Labels.AlertName)
	}

	return ids, nil
}

func (s *Store) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.contexts, oldest)
	s.logger.Warn("memory alert store capacity exceeded, evicting oldest", "id", oldest, "capacity", s.capacity)
}

func (s *Store) PendingDue(ctx context.Context, escalationInterval time.Duration) ([]alertmodel.AlertContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]alertmodel.AlertContext, 0)

	for _, id := range s.order {
		c := s.contexts[id]
		if c.Acked() {
			continue
		}
		if c.LastNotifiedTmsp == nil {
			out = append(out, c.Clone())
			continue
		}
		last := time.Unix(int64(*c.LastNotifiedTmsp), 0)
		if now.Sub(last) >= escalationInterval {
			out = append(out, c.Clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InsertedTmsp != out[j].InsertedTmsp {
			return out[i].InsertedTmsp < out[j].InsertedTmsp
		}
		return out[i].Id < out[j].Id
	})

	return out, nil
}

func (s *Store) Advance(ctx context.Context, id alertmodel.AlertId, newLevelIdx uint, now time.Time) (store.AdvanceOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[id]
	if !ok {
		return store.AdvanceOutcomeNotFound, nil
	}
	if c.Acked() {
		return store.AdvanceOutcomeAckedInFlight, nil
	}

	ts := uint64(now.Unix())
	c.LevelIdx = newLevelIdx
	c.LastNotifiedTmsp = &ts
	s.contexts[id] = c

	return store.AdvanceOutcomeOK, nil
}

func (s *Store) Acknowledge(ctx context.Context, id alertmodel.AlertId, user alertmodel.User, level uint) (store.AckOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[id]
	if !ok {
		return store.AckOutcomeNotFound, nil
	}
	if c.Acked() {
		return store.AckOutcomeAlreadyAcked, nil
	}

	u := user
	lvl := level
	c.AckedBy = &u
	c.AckedOnLevel = &lvl
	s.contexts[id] = c

	s.logger.Debug("alert acknowledged (memory)", "id", id, "user", user.String(), "level", level)
	return store.AckOutcomeAcknowledged, nil
}

func (s *Store) PendingSnapshot(ctx context.Context) ([]alertmodel.AlertContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alertmodel.AlertContext, 0)
	for _, id := range s.order {
		c := s.contexts[id]
		if !c.Acked() {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InsertedTmsp != out[j].InsertedTmsp {
			return out[i].InsertedTmsp < out[j].InsertedTmsp
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (s *Store) Close() error {
	s.logger.Info("memory alert store closed, data discarded")
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Size returns the current number of tracked contexts.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}
