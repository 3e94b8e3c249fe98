package infra

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"dal-gateway/dal/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

var lostMessages = []string{
	"gone away",
	"broken pipe",
	"connection reset",
	"server closed the connection",
	"lost connection",
}

// IsConnectionLost diz se err indica que a conexão usada morreu no meio do uso.
// É a classificação central usada pelo registry para despejar em vez de devolver.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrConnectionLost),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, redis.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// classe 08: connection exception; 57P01..57P03: servidor encerrando
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// 2006 server has gone away, 2013 lost connection
		return mysqlErr.Number == 2006 || mysqlErr.Number == 2013
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range lostMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
