// Package infra contém as implementações concretas da camada de dados:
// o Pool genérico, os connectors (database/sql com MySQL/PostgreSQL, go-redis),
// os executores (bloqueante e Loop cooperativo), os stores do lock e do rate limit
// (Redis via Lua, etcd via transação, tabelas em memória) e estatísticas/métricas.
package infra
