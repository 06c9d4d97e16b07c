package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"journal-gateway/middleware/ratelimit/application"
	"journal-gateway/middleware/ratelimit/domain"
	"journal-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Logger         *zap.Logger

	// Pool permite injetar o semáforo (ex: para expor ocupação no health).
	// Se nil, cria um ChanPool com capacidade Max.
	Pool domain.SlotPool
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				if !errors.Is(err, application.ErrNoSlot) {
					// cliente foi embora enquanto esperava
					return
				}
				opts.Logger.Warn("no concurrency slot available",
					zap.Int("capacity", opts.Pool.Capacity()),
					zap.Duration("timeout", opts.AcquireTimeout))
				WriteJSON(w, opts.RejectStatus, ErrorBody{Error: http.StatusText(opts.RejectStatus)})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
