// Package domain define contratos e tipos do acesso a dados: conexões emprestadas
// de um pool, lock distribuído, janelas de rate limit e a estratégia de execução
// (bloqueante ou cooperativa).
//
// Este pacote não depende de drivers (SQL/Redis/etcd) nem de net/http.
// As implementações concretas ficam em dal/infra e os casos de uso em dal/application.
package domain
