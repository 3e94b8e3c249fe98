// Package ratelimit fornece adapters HTTP (net/http) para o rate limiter de janela
// fixa e para o lock distribuído da camada de dados (dal).
//
// Visão geral (camadas):
//
//   - dal/domain: contratos e tipos (sem dependência de net/http)
//   - dal/application: casos de uso (contagem da janela, tickets de lock) sem net/http
//   - dal/infra: backends concretos (scripts Redis, etcd, tabelas em memória)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a chave do cliente (IP/header/XFF)
//   2) Consome uma unidade da janela do cliente (ou tenta o lock da chave)
//   3) Se bloqueado, responde 429 (rate limit) ou 409 (lock ocupado)
//   4) Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Falha do backend não bloqueia request no rate limit: o limitador é consultivo.
package ratelimit
