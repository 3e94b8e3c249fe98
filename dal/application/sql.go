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

// queryer é o que *sql.Conn e *sql.Tx têm em comum.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlResource interface {
	SQLConn() *sql.Conn
}

func sqlConnOf(c *domain.Connection) (*sql.Conn, error) {
	r, ok := c.Resource.(sqlResource)
	if !ok {
		return nil, fmt.Errorf("connection %s is not a sql connection", c)
	}
	return r.SQLConn(), nil
}

// DB executa comandos SQL avulsos: cada chamada empresta uma conexão e a devolve
// com o erro do comando, então uma conexão morta é despejada no caminho.
type DB struct {
	src   domain.ConnectionSource
	log   *zap.Logger
	debug bool
}

func NewDB(src domain.ConnectionSource, log *zap.Logger, debug bool) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{src: src, log: log.With(zap.String("component", "db")), debug: debug}
}

func (d *DB) with(ctx context.Context, fn func(q queryer) error) (err error) {
	conn, err := d.src.Acquire(ctx, domain.ResourceSQL)
	if err != nil {
		return err
	}
	defer func() { d.src.Release(conn, err) }()

	sc, err := sqlConnOf(conn)
	if err != nil {
		return err
	}
	return fn(sc)
}

func (d *DB) logSQL(query string, args []any, start time.Time, err error) {
	if !d.debug {
		return
	}
	d.log.Debug("sql", zap.String("query", query), zap.Any("args", args),
		zap.Duration("took", time.Since(start)), zap.Error(err))
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (res sql.Result, err error) {
	start := time.Now()
	defer func() { d.logSQL(query, args, start, err) }()

	err = d.with(ctx, func(q queryer) error {
		res, err = q.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (d *DB) Select(ctx context.Context, query string, args ...any) (rows []map[string]any, err error) {
	start := time.Now()
	defer func() { d.logSQL(query, args, start, err) }()

	err = d.with(ctx, func(q queryer) error {
		rows, err = selectMaps(ctx, q, query, args...)
		return err
	})
	return rows, err
}

// First devolve a primeira linha, ou nil se não houver.
func (d *DB) First(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := d.Select(ctx, query, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count espera uma consulta que devolve um único inteiro.
func (d *DB) Count(ctx context.Context, query string, args ...any) (n int64, err error) {
	err = d.with(ctx, func(q queryer) error {
		return q.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func selectMaps(ctx context.Context, q queryer, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
