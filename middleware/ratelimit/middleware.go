package ratelimit

import (
	"context"
	"net/http"
	"time"

	"journal-gateway/middleware/ratelimit/application"
	"journal-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

type Options struct {
	// Name separa os contadores de políticas diferentes ("default", "summaries"...).
	Name        string
	Store       domain.CounterStore
	Window      time.Duration
	MaxRequests int

	Stats        domain.StatsStore
	KeyFn        KeyFunc
	KeyHeader    string
	Production   bool
	RejectStatus int
	ErrorHandler ErrorHandler
	Logger       *zap.Logger
	Now          func() time.Time

	// IgnoreProxyHeaders desliga X-Forwarded-For/X-Real-IP/CF-Connecting-IP na
	// chave padrão. Use quando não há proxy confiável na frente.
	IgnoreProxyHeaders bool
}

// Middleware aplica cota por janela fixa.
//
// Toda requisição incrementa o contador, passe ou não, e o handler seguinte
// roda com os headers X-RateLimit-* já definidos. Acima do limite responde
// 429 com corpo JSON e não chama o próximo handler.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, !opts.IgnoreProxyHeaders, opts.Production)
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = DefaultErrorHandler
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.With(zap.String("policy", opts.Name))

	svc := application.Service{
		Store:       opts.Store,
		Window:      opts.Window,
		MaxRequests: opts.MaxRequests,
		Now:         opts.Now,
	}
	// falha de stats não derruba request, mas também não pode inundar o log
	statsWarn := &rate.Sometimes{First: 1, Interval: 30 * time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := CounterKey(opts.Name, opts.KeyFn(r))

			// o incremento termina mesmo se o cliente desconectar
			ctx := context.WithoutCancel(r.Context())

			dec, err := svc.Hit(ctx, key)
			if err != nil {
				opts.ErrorHandler(w, r, err)
				return
			}

			if opts.Stats != nil {
				err := opts.Stats.Record(ctx, domain.StatsEvent{
					Policy:  opts.Name,
					Key:     key,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Now(),
				})
				if err != nil {
					statsWarn.Do(func() { log.Warn("rate limit stats not recorded", zap.Error(err)) })
				}
			}

			setHeaders(w.Header(), dec)

			if !dec.Allowed {
				log.Debug("rate limit exceeded",
					zap.String("key", string(key)),
					zap.Int64("count", dec.Count),
					zap.Int("limit", dec.Limit))
				WriteJSON(w, opts.RejectStatus, RejectionBody{
					Error:      "Too many requests",
					RetryAfter: seconds(dec.RetryAfter),
					Limit:      dec.Limit,
					Remaining:  0,
					Reset:      dec.Reset.UnixMilli(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CounterKey compõe a chave do contador: política + chave do chamador.
func CounterKey(policy, caller string) domain.Key {
	return domain.Key(policy + ":" + caller)
}

func setHeaders(h http.Header, dec domain.Decision) {
	h.Set(HeaderLimit, formatInt(dec.Limit))
	h.Set(HeaderRemaining, formatInt(dec.Remaining))
	h.Set(HeaderReset, formatInt64(dec.Reset.UnixMilli()))
	h.Set(HeaderRetryAfter, formatInt64(seconds(dec.RetryAfter)))
}
