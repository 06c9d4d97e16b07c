// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore: contador por janela fixa em Redis (go-redis, script INCR+PEXPIRE)
//   - MemoryCounterStore: contador em memória (ttlcache), só para instância única
//   - SelectCounterStore: escolhe o backend uma vez, na subida do processo
//   - RedisStatsStore / MemoryStatsStore: estatísticas allow/deny
//   - ChanPool: semáforo simples para limite de concorrência
package infra
