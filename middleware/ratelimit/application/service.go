package application

import (
	"context"
	"math"
	"time"

	"journal-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit por janela fixa.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store       domain.CounterStore
	Window      time.Duration
	MaxRequests int
	Now         func() time.Time
}

// Hit conta a requisição e decide. Sempre exatamente um Increment por chamada,
// inclusive quando a decisão for negar.
//
// Erro do store é devolvido como veio: não existe fail-open nem fail-closed aqui.
func (s Service) Hit(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil {
		return s.decide(0, s.currentReset()), nil
	}

	c, err := s.Store.Increment(ctx, key, s.Window)
	if err != nil {
		return domain.Decision{}, err
	}
	return s.decide(c.Count, c.ResetTime), nil
}

// Peek mostra a situação da chave sem consumir cota.
func (s Service) Peek(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil {
		return s.decide(0, s.currentReset()), nil
	}

	c, err := s.Store.Get(ctx, key, s.Window)
	if err != nil {
		return domain.Decision{}, err
	}
	if c == nil {
		return s.decide(0, s.currentReset()), nil
	}
	return s.decide(c.Count, c.ResetTime), nil
}

func (s Service) decide(count int64, reset time.Time) domain.Decision {
	remaining := int64(s.MaxRequests) - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		Allowed:    count <= int64(s.MaxRequests),
		Limit:      s.MaxRequests,
		Count:      count,
		Remaining:  int(remaining),
		Reset:      reset,
		RetryAfter: ceilSeconds(reset.Sub(s.now())),
	}
}

// currentReset é o fim da janela atual; com janela inválida, o próprio agora.
func (s Service) currentReset() time.Time {
	now := s.now()
	if domain.ValidateWindow(s.Window) != nil {
		return now
	}
	return domain.WindowReset(domain.WindowID(now, s.Window), s.Window)
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
