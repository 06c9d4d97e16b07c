// Package ratelimit fornece adapters HTTP (net/http) para rate limit por janela
// fixa e limite de concorrência na frente do app de diário.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (hit/peek da janela, acquire/timeout) sem net/http
//   - infra: implementações concretas (Redis, memória, semáforo, estatísticas)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header configurado, X-Forwarded-For, X-Real-IP, CF-Connecting-IP)
//  2. Incrementa o contador da janela atual (uma vez por request, sempre)
//  3. Se passou do limite, responde 429 com JSON {error, retryAfter, limit, remaining, reset}
//  4. Se não, define X-RateLimit-Limit/Remaining/Reset e Retry-After e chama o próximo handler
//
// Erro do backend de contadores vai para Options.ErrorHandler; não há retry.
package ratelimit
