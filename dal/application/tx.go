package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dal-gateway/dal/domain"

	"go.uber.org/zap"
)

const defaultTxTimeout = 30 * time.Second

// Tx é o handle entregue à unidade de trabalho. Todas as chamadas vão para a
// mesma conexão (e a mesma transação); nada aqui empresta outra conexão do pool.
type Tx struct {
	tx   *sql.Tx
	conn *domain.Connection
}

func (t *Tx) Conn() *domain.Connection { return t.conn }

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Select(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return selectMaps(ctx, t.tx, query, args...)
}

func (t *Tx) First(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := t.Select(ctx, query, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

type TxOptions struct {
	// Timeout da unidade de trabalho no modo cooperativo.
	Timeout   time.Duration
	Isolation *sql.TxOptions
	Logger    *zap.Logger
}

// TxManager executa unidades de trabalho transacionais.
//
// Modo bloqueante: a transação usa uma conexão avulsa dedicada (não passa pela
// fila idle). Modo cooperativo: a conexão vem do pool e a unidade roda como
// sub-tarefa com timeout; estourar o timeout cancela o ctx e faz rollback.
type TxManager struct {
	reg  *Registry
	opts TxOptions
	log  *zap.Logger
}

func NewTxManager(reg *Registry, opts TxOptions) *TxManager {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTxTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &TxManager{reg: reg, opts: opts, log: log.With(zap.String("component", "tx"))}
}

func (m *TxManager) Run(ctx context.Context, work func(ctx context.Context, tx *Tx) error) error {
	exec := m.reg.Executor()
	if exec.Mode() == domain.ModeCooperative {
		return exec.Submit(ctx, m.opts.Timeout, func(ctx context.Context) error {
			return m.run(ctx, m.reg.Acquire, work)
		})
	}
	return m.run(ctx, m.reg.Open, work)
}

func (m *TxManager) run(ctx context.Context,
	obtain func(context.Context, domain.ResourceType) (*domain.Connection, error),
	work func(ctx context.Context, tx *Tx) error) (err error) {

	conn, err := obtain(ctx, domain.ResourceSQL)
	if err != nil {
		return fmt.Errorf("tx: obtain connection: %w", err)
	}

	var cause error
	defer func() { m.reg.Release(conn, cause) }()

	sc, err := sqlConnOf(conn)
	if err != nil {
		cause = err
		return err
	}

	tx, err := sc.BeginTx(ctx, m.opts.Isolation)
	if err != nil {
		cause = err
		return fmt.Errorf("tx: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			cause = fmt.Errorf("tx: panic: %v", p)
			panic(p)
		}
	}()

	if err = work(ctx, &Tx{tx: tx, conn: conn}); err != nil {
		cause = err
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			m.log.Warn("rollback failed", zap.Stringer("conn", conn), zap.Error(rbErr))
			cause = errors.Join(err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		cause = err
		return fmt.Errorf("tx: commit: %w", err)
	}
	return nil
}
