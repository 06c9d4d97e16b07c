package infra

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSelectCounterStore_ProductionWithURLUsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	sel, err := SelectCounterStore(context.Background(), BackendConfig{
		Production: true,
		RedisURL:   "redis://" + mr.Addr() + "/0",
		Prefix:     "journal:rl",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	assert.Equal(t, BackendRedis, sel.Backend)
	assert.NotNil(t, sel.Redis)
	_, ok := sel.Store.(*RedisCounterStore)
	assert.True(t, ok, "expected redis store, got %T", sel.Store)
}

func TestSelectCounterStore_ProductionWithoutURLWarnsAndFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	sel, err := SelectCounterStore(context.Background(), BackendConfig{Production: true}, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, sel.Backend)
	assert.NotNil(t, sel.Memory)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "REDIS_URL not set")
}

func TestSelectCounterStore_DevelopmentIgnoresURL(t *testing.T) {
	sel, err := SelectCounterStore(context.Background(), BackendConfig{
		RedisURL: "redis://127.0.0.1:1/0",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, sel.Backend)
	assert.Nil(t, sel.Redis)
}

func TestSelectCounterStore_ForcedRedisRequiresURL(t *testing.T) {
	_, err := SelectCounterStore(context.Background(), BackendConfig{Backend: BackendRedis}, nil)
	assert.Error(t, err)
}

func TestSelectCounterStore_PingFailureIsError(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := SelectCounterStore(context.Background(), BackendConfig{
		Backend:  BackendRedis,
		RedisURL: "redis://" + addr,
	}, nil)
	assert.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendAuto, "AUTO": BackendAuto, " redis ": BackendRedis, "memory": BackendMemory} {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("postgres")
	assert.Error(t, err)
}
