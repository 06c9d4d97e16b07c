package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"journal-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// INCR + PEXPIRE no primeiro incremento, no mesmo script: nenhuma chave de
// janela fica sem TTL.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore implementa domain.CounterStore sobre Redis.
//
// Chave: <prefix>:<key>:<windowId>. Requisições concorrentes na mesma janela
// compartilham o contador e janelas diferentes nunca colidem. A atomicidade vem
// só do Redis, não há lock na aplicação.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisCounterOption func(*RedisCounterStore)

func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(s *RedisCounterStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithRedisClock(now func() time.Time) RedisCounterOption {
	return func(s *RedisCounterStore) { s.now = now }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:    rdb,
		prefix: "ratelimit",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) Increment(ctx context.Context, key domain.Key, window time.Duration) (domain.WindowCounter, error) {
	if err := domain.ValidateWindow(window); err != nil {
		return domain.WindowCounter{}, err
	}

	id := domain.WindowID(s.now(), window)
	k := s.windowKey(key, id)

	n, err := incrWindowScript.Run(ctx, s.rdb, []string{k}, window.Milliseconds()).Int64()
	if err != nil {
		return domain.WindowCounter{}, fmt.Errorf("ratelimit: redis increment %s: %w", k, err)
	}

	return domain.WindowCounter{
		Key:       key,
		WindowID:  id,
		Count:     n,
		ResetTime: domain.WindowReset(id, window),
	}, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key domain.Key, window time.Duration) (*domain.WindowCounter, error) {
	if err := domain.ValidateWindow(window); err != nil {
		return nil, err
	}

	id := domain.WindowID(s.now(), window)
	k := s.windowKey(key, id)

	n, err := s.rdb.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis get %s: %w", k, err)
	}

	return &domain.WindowCounter{
		Key:       key,
		WindowID:  id,
		Count:     n,
		ResetTime: domain.WindowReset(id, window),
	}, nil
}

// Reset apaga o contador da janela atual. Só para manutenção/testes.
func (s *RedisCounterStore) Reset(ctx context.Context, key domain.Key, window time.Duration) error {
	if err := domain.ValidateWindow(window); err != nil {
		return err
	}

	k := s.windowKey(key, domain.WindowID(s.now(), window))
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis reset %s: %w", k, err)
	}
	return nil
}

func (s *RedisCounterStore) windowKey(key domain.Key, id int64) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, key, id)
}
