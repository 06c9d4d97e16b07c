// Package domain define contratos e tipos de domínio para rate limit por janela fixa,
// estatísticas e limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e trocar o backend dos contadores
// (Redis ou memória) sem mexer nas regras.
package domain
