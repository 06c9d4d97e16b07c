package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"journal-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// ParseBackend aceita "", "auto", "redis" e "memory" (case-insensitive).
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendRedis:
		return BackendRedis, nil
	case BackendMemory:
		return BackendMemory, nil
	}
	return "", fmt.Errorf("unknown store backend %q (want auto, redis or memory)", s)
}

type BackendConfig struct {
	Backend     Backend
	Production  bool
	RedisURL    string
	Prefix      string
	PingTimeout time.Duration
	// MemoryCapacity limita chaves no backend em memória (0 = sem limite).
	MemoryCapacity uint64
}

// Selection é o resultado da escolha de backend, feita uma vez na subida do
// processo e passada adiante.
type Selection struct {
	Backend Backend
	Store   domain.CounterStore

	// Redis fica preenchido quando o backend é Redis; as estatísticas reaproveitam
	// a mesma conexão.
	Redis  *redis.Client
	Memory *MemoryCounterStore
}

func (s *Selection) Close() error {
	if s == nil || s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}

// SelectCounterStore aplica a política:
//   - auto + produção + REDIS_URL: Redis
//   - auto + produção sem REDIS_URL: aviso e memória (não é erro)
//   - auto fora de produção: memória
//   - redis/memory: forçado
//
// Falha de ping no Redis é erro de subida.
func SelectCounterStore(ctx context.Context, cfg BackendConfig, log *zap.Logger) (*Selection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	url := strings.TrimSpace(cfg.RedisURL)

	backend := cfg.Backend
	if backend == "" {
		backend = BackendAuto
	}
	if backend == BackendAuto {
		switch {
		case cfg.Production && url != "":
			backend = BackendRedis
		case cfg.Production:
			log.Warn("REDIS_URL not set in production; falling back to in-memory rate limit counters (unsafe with multiple instances)")
			backend = BackendMemory
		default:
			backend = BackendMemory
		}
	}

	switch backend {
	case BackendRedis:
		if url == "" {
			return nil, errors.New("store backend redis requires REDIS_URL")
		}
		rdb, err := DialRedis(ctx, url, cfg.PingTimeout)
		if err != nil {
			return nil, err
		}
		log.Info("rate limit counters on redis", zap.String("addr", rdb.Options().Addr), zap.Int("db", rdb.Options().DB))
		return &Selection{
			Backend: BackendRedis,
			Store:   NewRedisCounterStore(rdb, WithCounterPrefix(cfg.Prefix)),
			Redis:   rdb,
		}, nil

	case BackendMemory:
		if cfg.Production && cfg.Backend == BackendMemory {
			log.Warn("in-memory rate limit counters forced in production; limits are per instance")
		}
		log.Info("rate limit counters in memory")
		mem := NewMemoryCounterStore(WithMemoryCapacity(cfg.MemoryCapacity))
		return &Selection{Backend: BackendMemory, Store: mem, Memory: mem}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// DialRedis abre o cliente a partir de uma URL redis:// ou rediss:// e faz ping.
func DialRedis(ctx context.Context, url string, pingTimeout time.Duration) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return rdb, nil
}
