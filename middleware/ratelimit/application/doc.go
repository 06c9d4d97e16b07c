// Package application contém os casos de uso (regras de aplicação) para rate limit
// e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Hit(ctx, key) conta a requisição e retorna uma Decision
// (allow/deny, remaining, reset, retry-after).
package application
