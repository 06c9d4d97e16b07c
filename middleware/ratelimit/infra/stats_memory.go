package infra

import (
	"context"
	"sync"

	"journal-gateway/middleware/ratelimit/domain"
)

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e instância única.
//
// Não faz expiração.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    domain.StatsTotals
	byPolicy map[string]domain.StatsTotals
	byRoute  map[string]domain.StatsTotals
	byKey    map[string]domain.StatsTotals

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byPolicy: make(map[string]domain.StatsTotals),
		byRoute:  make(map[string]domain.StatsTotals),
		byKey:    make(map[string]domain.StatsTotals),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	bump(&s.total, ev.Allowed)
	bumpIn(s.byPolicy, ev.Policy, ev.Allowed)
	bumpIn(s.byRoute, route, ev.Allowed)
	if s.trackKeys {
		bumpIn(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func (s *MemoryStatsStore) Snapshot(context.Context) (domain.StatsTotals, error) {
	return s.Total(), nil
}

func (s *MemoryStatsStore) Total() domain.StatsTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByPolicy() map[string]domain.StatsTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTotals(s.byPolicy)
}

func (s *MemoryStatsStore) ByRoute() map[string]domain.StatsTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTotals(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]domain.StatsTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTotals(s.byKey)
}

func bump(t *domain.StatsTotals, allowed bool) {
	if allowed {
		t.Allowed++
		return
	}
	t.Denied++
}

func bumpIn(m map[string]domain.StatsTotals, k string, allowed bool) {
	t := m[k]
	bump(&t, allowed)
	m[k] = t
}

func copyTotals(in map[string]domain.StatsTotals) map[string]domain.StatsTotals {
	out := make(map[string]domain.StatsTotals, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
