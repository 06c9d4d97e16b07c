package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão do rate limit.
//
// Policy identifica a regra que decidiu (ex: "default", "summaries").
// Cuidado com cardinalidade ao salvar Key/Path.
type StatsEvent struct {
	Policy  string
	Key     Key
	Allowed bool

	Method string
	Path   string

	At time.Time
}

type StatsTotals struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// StatsStore persiste estatísticas do rate limit.
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// StatsSnapshotter expõe os totais acumulados (endpoint /_gateway/stats).
type StatsSnapshotter interface {
	Snapshot(ctx context.Context) (StatsTotals, error)
}
