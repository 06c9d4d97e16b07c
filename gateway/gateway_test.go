package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"journal-gateway/config"
	"journal-gateway/middleware/ratelimit/domain"
	"journal-gateway/middleware/ratelimit/infra"
	"journal-gateway/middleware/requestid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv: "production",
		Rate: config.RateConfig{
			Enabled:           true,
			Window:            time.Minute,
			MaxRequests:       3,
			TrustProxyHeaders: true,
			Rules: []config.RuleConfig{
				{Name: "summaries", PathPrefix: "/api/summaries", Window: time.Hour, MaxRequests: 1},
			},
		},
		Stats:       config.StatsConfig{Enabled: true},
		Concurrency: config.ConcurrencyConfig{Max: 10},
	}
}

func fixedNow() time.Time { return time.UnixMilli(1_699_999_200_000).Add(5 * time.Second) }

var echoUpstream = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, r.URL.Path)
})

func newTestGateway(t *testing.T, cfg *config.Config, store domain.CounterStore, log *zap.Logger) (*Gateway, domain.StatsStore) {
	t.Helper()
	if store == nil {
		store = infra.NewMemoryCounterStore(infra.WithMemoryClock(fixedNow))
	}
	sel := &infra.Selection{Backend: infra.BackendMemory, Store: store}
	st := NewStatsStore(cfg.Stats, sel)

	g, err := New(Deps{Config: cfg, Logger: log, Counters: sel, Stats: st, Upstream: echoUpstream, Now: fixedNow})
	require.NoError(t, err)
	return g, st
}

func get(h http.Handler, path, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://gateway"+path, nil)
	r.Header.Set("X-Forwarded-For", ip)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGateway_DefaultPolicyScenario(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), nil, nil)

	for _, want := range []string{"2", "1", "0"} {
		w := get(g, "/api/entries", "203.0.113.7")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "/api/entries", w.Body.String())
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get(requestid.Header))
	}

	w := get(g, "/api/entries", "203.0.113.7")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Too many requests", body["error"])
	assert.EqualValues(t, 3, body["limit"])
	assert.EqualValues(t, 0, body["remaining"])

	w = get(g, "/api/entries", "198.51.100.1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
}

func TestGateway_RulePolicyIsStricterAndSeparate(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), nil, nil)

	w := get(g, "/api/summaries/weekly", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, http.StatusTooManyRequests, get(g, "/api/summaries", "203.0.113.7").Code)

	// a política padrão não foi tocada
	w = get(g, "/api/entries", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
}

func TestGateway_RateDisabledPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = false
	g, _ := newTestGateway(t, cfg, nil, nil)

	for i := 0; i < 5; i++ {
		w := get(g, "/api/entries", "203.0.113.7")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

type downStore struct{}

func (downStore) Increment(context.Context, domain.Key, time.Duration) (domain.WindowCounter, error) {
	return domain.WindowCounter{}, errors.New("redis: connection pool timeout")
}

func (downStore) Get(context.Context, domain.Key, time.Duration) (*domain.WindowCounter, error) {
	return nil, errors.New("redis: connection pool timeout")
}

func TestGateway_BackendFailureIsReportedAndGeneric(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	g, _ := newTestGateway(t, testConfig(), downStore{}, zap.New(core))

	r := httptest.NewRequest(http.MethodGet, "http://gateway/api/entries", nil)
	r.Header.Set(requestid.Header, "req-1")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())

	entries := logs.FilterMessage("rate limit backend failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}

func TestGateway_Health(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), nil, nil)

	w := get(g, "/_gateway/health", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "memory", resp.Backend)
	require.NotNil(t, resp.Concurrency)
	assert.Equal(t, 10, resp.Concurrency.Capacity)

	// health não consome cota
	w = get(g, "/api/entries", "203.0.113.7")
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))

	bad, _ := newTestGateway(t, testConfig(), downStore{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(bad, "/_gateway/health", "203.0.113.7").Code)
}

func TestGateway_Stats(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), nil, nil)

	for i := 0; i < 4; i++ {
		get(g, "/api/entries", "203.0.113.7")
	}

	w := get(g, "/_gateway/stats", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"allowed":3,"denied":1}`, w.Body.String())

	cfg := testConfig()
	cfg.Stats.Enabled = false
	off, _ := newTestGateway(t, cfg, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(off, "/_gateway/stats", "203.0.113.7").Code)
}

func TestGateway_ProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(echoUpstream)
	url := upstream.URL
	upstream.Close()

	cfg := testConfig()
	cfg.UpstreamURL = url
	sel := &infra.Selection{Backend: infra.BackendMemory, Store: infra.NewMemoryCounterStore()}
	g, err := New(Deps{Config: cfg, Counters: sel})
	require.NoError(t, err)

	w := get(g, "/api/entries", "203.0.113.7")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"Bad gateway"}`, w.Body.String())
}

func TestGateway_ProxiesToUpstream(t *testing.T) {
	var gotID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(requestid.Header)
		_, _ = io.WriteString(w, "diary:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig()
	cfg.UpstreamURL = upstream.URL
	sel := &infra.Selection{Backend: infra.BackendMemory, Store: infra.NewMemoryCounterStore()}
	g, err := New(Deps{Config: cfg, Counters: sel})
	require.NoError(t, err)

	w := get(g, "/api/entries/42", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "diary:/api/entries/42", w.Body.String())
	assert.Equal(t, w.Header().Get(requestid.Header), gotID)
}

func TestGateway_UpstreamRateHeadersAreDropped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining", "99")
		w.Header().Set("X-RateLimit-Reset", "1")
		w.Header().Set("Retry-After", "120")
		w.Header().Set("X-Journal-Version", "7")
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig()
	cfg.UpstreamURL = upstream.URL
	sel := &infra.Selection{Backend: infra.BackendMemory, Store: infra.NewMemoryCounterStore(infra.WithMemoryClock(fixedNow))}
	g, err := New(Deps{Config: cfg, Counters: sel, Now: fixedNow})
	require.NoError(t, err)

	w := get(g, "/api/entries", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"3"}, w.Header().Values("X-RateLimit-Limit"))
	assert.Equal(t, []string{"2"}, w.Header().Values("X-RateLimit-Remaining"))
	assert.Len(t, w.Header().Values("X-RateLimit-Reset"), 1)
	assert.Equal(t, []string{"55"}, w.Header().Values("Retry-After"))
	assert.Equal(t, "7", w.Header().Get("X-Journal-Version"))
}

func TestGateway_UntrustedProxyHeadersKeyOnRemoteAddr(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.TrustProxyHeaders = false
	g, _ := newTestGateway(t, cfg, nil, nil)

	codes := make([]int, 0, 5)
	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5"} {
		codes = append(codes, get(g, "/api/entries", ip).Code)
	}
	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)
}

func TestNew_RequiresUpstream(t *testing.T) {
	_, err := New(Deps{Config: testConfig()})
	assert.Error(t, err)
}

func TestPolicies_LongestPrefixFirstThenDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Rules = append(cfg.Rate.Rules, config.RuleConfig{Name: "weekly", PathPrefix: "/api/summaries/weekly", Window: time.Hour, MaxRequests: 2})

	ps := Policies(cfg)
	require.Len(t, ps, 3)
	assert.Equal(t, "weekly", ps[0].Name)
	assert.Equal(t, "summaries", ps[1].Name)
	assert.Equal(t, config.DefaultPolicy, ps[2].Name)

	p, ok := FindPolicy(cfg, "summaries")
	require.True(t, ok)
	assert.Equal(t, time.Hour, p.Window)
}
