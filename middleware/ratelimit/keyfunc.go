package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type KeyFunc func(r *http.Request) string

// DefaultKeyFunc deriva a chave do chamador, nesta ordem:
//
//  1. keyHeader (se configurado e presente)
//  2. primeiro IP do X-Forwarded-For (cliente original)
//  3. X-Real-IP
//  4. CF-Connecting-IP
//
// Sem nenhum deles, em produção usa o host do RemoteAddr. Fora de produção usa
// um placeholder que não identifica ninguém, derivado de headers do request.
//
// Com trustProxy=false os itens 2 a 4 são ignorados (qualquer cliente forja
// esses headers) e a chave é sempre o host do RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustProxy, production bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if !trustProxy {
			return remoteHost(r)
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
			if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
				return v
			}
		}

		if !production {
			return placeholderKey(r)
		}
		return remoteHost(r)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func placeholderKey(r *http.Request) string {
	sum := xxhash.Sum64String(r.Header.Get("User-Agent") + "|" + r.Header.Get("Accept-Language"))
	return fmt.Sprintf("anon-%016x", sum)
}
