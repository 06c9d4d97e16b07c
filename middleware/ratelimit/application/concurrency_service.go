package application

import (
	"context"
	"errors"
	"time"

	"journal-gateway/middleware/ratelimit/domain"
)

// ErrNoSlot indica que o tempo de espera por uma vaga acabou.
var ErrNoSlot = errors.New("concurrency: no free slot")

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - Se `AcquireTimeout <= 0`, espera até ctx cancelar.
//   - Se `AcquireTimeout > 0`, espera até o timeout e então devolve ErrNoSlot.
//
// Se o ctx do chamador foi cancelado (cliente desistiu), devolve ctx.Err().
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoSlot
}
