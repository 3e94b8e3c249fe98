package infra

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"dal-gateway/dal/config"
	"dal-gateway/dal/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// SQLResource é uma conexão SQL dedicada: um *sql.DB limitado a uma conexão
// física e o *sql.Conn fixado nela.
type SQLResource struct {
	DB   *sql.DB
	Conn *sql.Conn
}

func (r *SQLResource) SQLConn() *sql.Conn { return r.Conn }

func (r *SQLResource) Close() error {
	var errs []error
	if r.Conn != nil {
		errs = append(errs, r.Conn.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// SQLConnector abre conexões SQL fora do pool do database/sql; quem recicla é o Pool.
type SQLConnector struct {
	driver    string
	connector driver.Connector
	timeout   time.Duration
}

func NewSQLConnector(cfg config.SQL) (*SQLConnector, error) {
	var (
		conn driver.Connector
		err  error
	)
	switch cfg.Driver {
	case config.DriverMySQL:
		conn, err = mysql.NewConnector(MySQLConfig(cfg))
	case config.DriverPostgres:
		var pc *pgx.ConnConfig
		pc, err = pgx.ParseConfig(PostgresDSN(cfg))
		if err == nil {
			conn = stdlib.GetConnector(*pc)
		}
	default:
		err = fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewSQLConnectorFrom(cfg.Driver, conn, cfg.ConnectTimeout), nil
}

// NewSQLConnectorFrom usa um driver.Connector já pronto.
func NewSQLConnectorFrom(driverName string, c driver.Connector, timeout time.Duration) *SQLConnector {
	return &SQLConnector{driver: driverName, connector: c, timeout: timeout}
}

func (c *SQLConnector) Connect(ctx context.Context) (io.Closer, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	db := sql.OpenDB(c.connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s connect: %w", c.driver, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", c.driver, err)
	}
	return &SQLResource{DB: db, Conn: conn}, nil
}

func MySQLConfig(cfg config.SQL) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.DBName
	mc.Collation = cfg.Collation
	mc.ParseTime = true
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if cfg.Charset != "" {
		mc.Params["charset"] = cfg.Charset
	}
	for k, v := range cfg.Params {
		mc.Params[k] = v
	}
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	return mc
}

func PostgresDSN(cfg config.SQL) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.DBName)
	if cfg.Password != "" {
		dsn += " password=" + cfg.Password
	}
	for k, v := range cfg.Params {
		dsn += " " + k + "=" + v
	}
	return dsn
}

// SQLConnOf extrai o *sql.Conn do handle.
func SQLConnOf(c *domain.Connection) (*sql.Conn, error) {
	if c == nil {
		return nil, errors.New("nil connection")
	}
	r, ok := c.Resource.(interface{ SQLConn() *sql.Conn })
	if !ok {
		return nil, fmt.Errorf("connection %s is not a sql connection", c)
	}
	return r.SQLConn(), nil
}
