// Package requestid propaga um id de correlação por request (header X-Request-ID).
package requestid

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-ID"

type ctxKey struct{}

// Middleware reaproveita o X-Request-ID recebido ou gera um UUID novo.
// O id volta no response e fica no contexto para logs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(Header))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		w.Header().Set(Header, id)
		r.Header.Set(Header, id) // o app de diário também recebe
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
