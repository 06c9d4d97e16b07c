package infra

import (
	"context"

	"journal-gateway/middleware/ratelimit/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um semáforo baseado em channel com capacidade `max`.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre ganha de ctx já cancelado
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	default:
	}

	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) Capacity() int { return cap(p.sem) }
func (p *chanPool) InUse() int    { return len(p.sem) }
