package gateway

import (
	"context"
	"net/http"
	"time"

	"journal-gateway/middleware/ratelimit"
	"journal-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status      string         `json:"status"`
	Backend     string         `json:"backend,omitempty"`
	Error       string         `json:"error,omitempty"`
	Concurrency *slotsResponse `json:"concurrency,omitempty"`
}

type slotsResponse struct {
	InUse    int `json:"in_use"`
	Capacity int `json:"capacity"`
}

// health faz uma leitura (Get) no backend dos contadores. Não consome cota.
func (g *Gateway) health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if g.pool != nil {
			resp.Concurrency = &slotsResponse{InUse: g.pool.InUse(), Capacity: g.pool.Capacity()}
		}

		if d.Counters != nil && d.Counters.Store != nil {
			resp.Backend = string(d.Counters.Backend)

			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if _, err := d.Counters.Store.Get(ctx, "health:probe", time.Second); err != nil {
				d.Logger.Warn("health probe failed", zap.Error(err))
				resp.Status = "unhealthy"
				resp.Error = "counter store unavailable"
				ratelimit.WriteJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}

		ratelimit.WriteJSON(w, http.StatusOK, resp)
	}
}

func stats(s domain.StatsStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := s.(domain.StatsSnapshotter)
		if !ok {
			ratelimit.WriteJSON(w, http.StatusNotFound, ratelimit.ErrorBody{Error: "stats disabled"})
			return
		}

		totals, err := snap.Snapshot(r.Context())
		if err != nil {
			log.Warn("stats snapshot failed", zap.Error(err))
			ratelimit.WriteJSON(w, http.StatusServiceUnavailable, ratelimit.ErrorBody{Error: "stats unavailable"})
			return
		}
		ratelimit.WriteJSON(w, http.StatusOK, totals)
	}
}
