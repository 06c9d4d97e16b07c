// Package gateway monta o handler HTTP que fica na frente do app de diário:
// request id, recuperação de panic, log de acesso, limite de concorrência,
// rate limit por política e proxy reverso para o upstream.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"journal-gateway/config"
	"journal-gateway/middleware/ratelimit"
	"journal-gateway/middleware/ratelimit/domain"
	"journal-gateway/middleware/ratelimit/infra"
	"journal-gateway/middleware/requestid"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Counters *infra.Selection
	Stats    domain.StatsStore
	// Upstream substitui o proxy reverso (testes). Se nil, usa Config.UpstreamURL.
	Upstream http.Handler
	Now      func() time.Time
}

type Gateway struct {
	router http.Handler
	pool   domain.SlotPool
}

func New(d Deps) (*Gateway, error) {
	if d.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	cfg := d.Config
	log := d.Logger

	upstream := d.Upstream
	if upstream == nil {
		p, err := newProxy(cfg.UpstreamURL, log)
		if err != nil {
			return nil, err
		}
		upstream = p
	}

	g := &Gateway{}
	if cfg.Concurrency.Max > 0 {
		g.pool = infra.NewChanPool(cfg.Concurrency.Max)
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/_gateway/health", g.health(d))
	r.Get("/_gateway/stats", stats(d.Stats, log))

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           g.pool,
			AcquireTimeout: cfg.Concurrency.Timeout,
			Logger:         log,
		}))

		if !cfg.Rate.Enabled || d.Counters == nil {
			r.Handle("/*", upstream)
			return
		}

		for _, p := range Policies(cfg) {
			mw := ratelimit.Middleware(ratelimit.Options{
				Name:         p.Name,
				Store:        d.Counters.Store,
				Window:       p.Window,
				MaxRequests:  p.MaxRequests,
				Stats:        d.Stats,
				KeyHeader:    cfg.Rate.KeyHeader,
				Production:   cfg.IsProduction(),
				ErrorHandler: reportError(log),
				Logger:       log,
				Now:          d.Now,

				IgnoreProxyHeaders: !cfg.Rate.TrustProxyHeaders,
			})
			if p.PathPrefix == "" {
				r.With(mw).Handle("/*", upstream)
				continue
			}
			prefix := strings.TrimSuffix(p.PathPrefix, "/")
			r.With(mw).Handle(prefix, upstream)
			r.With(mw).Handle(prefix+"/*", upstream)
		}
	})

	g.router = r
	return g, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// Policy é uma cota aplicada a um prefixo de caminho. PathPrefix vazio é a
// política padrão, que pega o resto.
type Policy struct {
	Name        string
	PathPrefix  string
	Window      time.Duration
	MaxRequests int
}

// Policies devolve as regras (prefixos mais longos primeiro) seguidas da padrão.
func Policies(cfg *config.Config) []Policy {
	out := make([]Policy, 0, len(cfg.Rate.Rules)+1)
	for _, rule := range cfg.Rate.Rules {
		out = append(out, Policy{
			Name:        rule.Name,
			PathPrefix:  rule.PathPrefix,
			Window:      rule.Window,
			MaxRequests: rule.MaxRequests,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].PathPrefix) > len(out[j].PathPrefix) })

	return append(out, Policy{
		Name:        config.DefaultPolicy,
		Window:      cfg.Rate.Window,
		MaxRequests: cfg.Rate.MaxRequests,
	})
}

// FindPolicy procura pelo nome; usado pelos comandos de manutenção.
func FindPolicy(cfg *config.Config, name string) (Policy, bool) {
	for _, p := range Policies(cfg) {
		if p.Name == name {
			return p, true
		}
	}
	return Policy{}, false
}

// NewStatsStore escolhe onde gravar estatísticas: no mesmo Redis dos contadores
// quando houver, senão em memória.
func NewStatsStore(cfg config.StatsConfig, sel *infra.Selection) domain.StatsStore {
	if !cfg.Enabled {
		return nil
	}
	if sel != nil && sel.Redis != nil {
		return infra.NewRedisStatsStore(sel.Redis,
			infra.WithStatsPrefix(cfg.Prefix),
			infra.WithStatsTTL(cfg.TTL),
			infra.WithStatsBucket(cfg.Bucket),
			infra.WithStatsTrackKeys(cfg.TrackKeys),
		)
	}
	return infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.TrackKeys))
}

// reportError é a camada genérica: registra o erro com o request id e devolve 500.
func reportError(log *zap.Logger) ratelimit.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("rate limit backend failure",
			zap.Error(err),
			zap.String("request_id", requestid.FromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		ratelimit.DefaultErrorHandler(w, r, err)
	}
}

func newProxy(raw string, log *zap.Logger) (http.Handler, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("UPSTREAM_URL is required")
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("UPSTREAM_URL must be absolute (http://host:port)")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ModifyResponse = dropUpstreamRateHeaders
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Warn("upstream error",
			zap.Error(err),
			zap.String("request_id", requestid.FromContext(r.Context())),
			zap.String("upstream", target.Host))
		ratelimit.WriteJSON(w, http.StatusBadGateway, ratelimit.ErrorBody{Error: "Bad gateway"})
	}
	return proxy, nil
}

// dropUpstreamRateHeaders remove os headers de cota vindos do upstream: os do
// gateway já estão no ResponseWriter e o proxy somaria os dois valores.
func dropUpstreamRateHeaders(resp *http.Response) error {
	for _, h := range []string{
		ratelimit.HeaderLimit,
		ratelimit.HeaderRemaining,
		ratelimit.HeaderReset,
		ratelimit.HeaderRetryAfter,
	} {
		resp.Header.Del(h)
	}
	return nil
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("request_id", requestid.FromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
