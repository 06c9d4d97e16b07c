package domain

// Camada de domínio do rate limit (janela fixa).
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

type Key string

var ErrInvalidWindow = errors.New("ratelimit: window must be at least 1ms")

// WindowCounter é o contador de uma chave dentro de uma janela.
//
// WindowID = floor(nowMs / windowMs). ResetTime marca o fim da janela.
type WindowCounter struct {
	Key       Key
	WindowID  int64
	Count     int64
	ResetTime time.Time
}

// CounterStore guarda contadores por (chave, janela).
//
// Increment deve ser atômico: chamadas concorrentes na mesma janela nunca
// perdem incrementos. O contador nasce com TTL igual à janela.
// Get é só leitura e retorna nil se a janela não começou ou já expirou.
type CounterStore interface {
	Increment(ctx context.Context, key Key, window time.Duration) (WindowCounter, error)
	Get(ctx context.Context, key Key, window time.Duration) (*WindowCounter, error)
}

// CounterResetter é opcional. Usado apenas em manutenção e testes:
// fora isso os contadores só somem pela expiração.
type CounterResetter interface {
	Reset(ctx context.Context, key Key, window time.Duration) error
}

type Decision struct {
	Allowed   bool
	Limit     int
	Count     int64
	Remaining int
	// Reset é o instante em que a janela atual termina.
	Reset time.Time
	// RetryAfter é o tempo até Reset, arredondado para segundos inteiros.
	RetryAfter time.Duration
}

func ValidateWindow(window time.Duration) error {
	if window < time.Millisecond {
		return ErrInvalidWindow
	}
	return nil
}

func WindowID(now time.Time, window time.Duration) int64 {
	return now.UnixMilli() / window.Milliseconds()
}

func WindowReset(id int64, window time.Duration) time.Time {
	return time.UnixMilli((id + 1) * window.Milliseconds())
}
