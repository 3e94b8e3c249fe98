// Package application concentra os casos de uso da camada de dados, sem saber
// nada sobre HTTP nem sobre drivers específicos:
//
//   - Registry: diretório (tipo de recurso, worker) -> pool; classifica falhas
//     de conexão e decide entre devolver e despejar.
//   - TxManager: uma conexão dedicada por unidade de trabalho transacional.
//   - DB / KV: consumidores finos que emprestam e devolvem conexões.
//   - Locker / Ticket: lock distribuído por token + TTL.
//   - RateLimiter / Limit: contador de janela fixa.
//   - Guard: aquisição de lock com timeout para adapters (ex: middleware HTTP).
//
// O modo de execução (bloqueante ou cooperativo) chega pronto como domain.Executor.
package application
