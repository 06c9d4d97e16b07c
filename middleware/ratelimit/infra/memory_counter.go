package infra

import (
	"context"
	"errors"
	"sync"
	"time"

	"journal-gateway/middleware/ratelimit/domain"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCounterStore é o contador em memória do processo: key -> {count, resetTime}.
//
// A expiração é checada na leitura (now >= resetTime trata como ausente); o TTL
// do ttlcache só serve para despejar chaves paradas.
//
// ATENÇÃO: cada instância tem seus próprios contadores. Com mais de uma réplica
// o limite efetivo se multiplica. Use só em desenvolvimento ou instância única.
type MemoryCounterStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *memoryEntry]
	now   func() time.Time

	capacity uint64
}

// ErrMemoryStoreFull: a capacidade foi atingida e todas as janelas ainda estão
// vivas. Chaves novas são recusadas; contadores existentes nunca são despejados.
var ErrMemoryStoreFull = errors.New("ratelimit: memory counter store is full")

type memoryEntry struct {
	windowID  int64
	count     int64
	resetTime time.Time
}

type MemoryCounterOption func(*MemoryCounterStore)

// WithMemoryCapacity limita quantas chaves ficam no cache (0 = sem limite).
// Cheio, Increment de chave nova devolve ErrMemoryStoreFull.
func WithMemoryCapacity(capacity uint64) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.capacity = capacity }
}

func WithMemoryClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	// sem touch-on-hit: ler não pode esticar a vida do contador
	// a capacidade é controlada aqui: o LRU do ttlcache despejaria janelas vivas
	s.cache = ttlcache.New[string, *memoryEntry](
		ttlcache.WithDisableTouchOnHit[string, *memoryEntry](),
	)
	return s
}

func (s *MemoryCounterStore) Increment(_ context.Context, key domain.Key, window time.Duration) (domain.WindowCounter, error) {
	if err := domain.ValidateWindow(window); err != nil {
		return domain.WindowCounter{}, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var ent *memoryEntry
	if it := s.cache.Get(string(key)); it != nil {
		ent = it.Value()
	}
	if ent == nil || !now.Before(ent.resetTime) {
		if ent == nil && !s.hasRoom(now) {
			return domain.WindowCounter{}, ErrMemoryStoreFull
		}
		id := domain.WindowID(now, window)
		ent = &memoryEntry{windowID: id, resetTime: domain.WindowReset(id, window)}
		s.cache.Set(string(key), ent, ent.resetTime.Sub(now))
	}
	ent.count++

	return domain.WindowCounter{
		Key:       key,
		WindowID:  ent.windowID,
		Count:     ent.count,
		ResetTime: ent.resetTime,
	}, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key domain.Key, window time.Duration) (*domain.WindowCounter, error) {
	if err := domain.ValidateWindow(window); err != nil {
		return nil, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.cache.Get(string(key))
	if it == nil {
		return nil, nil
	}
	ent := it.Value()
	if !now.Before(ent.resetTime) {
		return nil, nil
	}

	return &domain.WindowCounter{
		Key:       key,
		WindowID:  ent.windowID,
		Count:     ent.count,
		ResetTime: ent.resetTime,
	}, nil
}

// hasRoom libera janelas encerradas antes de recusar uma chave nova.
// Chamado com s.mu travado.
func (s *MemoryCounterStore) hasRoom(now time.Time) bool {
	if s.capacity == 0 || uint64(s.cache.Len()) < s.capacity {
		return true
	}
	s.cache.DeleteExpired()
	for k, it := range s.cache.Items() {
		if !now.Before(it.Value().resetTime) {
			s.cache.Delete(k)
		}
	}
	return uint64(s.cache.Len()) < s.capacity
}

// Reset remove a chave. Só para manutenção/testes.
func (s *MemoryCounterStore) Reset(_ context.Context, key domain.Key, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(string(key))
	return nil
}

func (s *MemoryCounterStore) Len() int {
	return s.cache.Len()
}

// DeleteExpired remove do cache as entradas cujo TTL já venceu.
func (s *MemoryCounterStore) DeleteExpired() {
	s.cache.DeleteExpired()
}

// StartJanitor roda o limpador do ttlcache até o contexto encerrar.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	go s.cache.Start()
	go func() {
		<-ctx.Done()
		s.cache.Stop()
	}()
}
