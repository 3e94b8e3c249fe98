// Package config define a configuração tipada da camada de dados.
//
// Parse é puro: recebe um mapa já carregado (arquivo, env, flags), normaliza
// os nomes das chaves, ignora chaves desconhecidas e rejeita valores que não
// convertem para o tipo esperado. Load faz o carregamento com viper/godotenv.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	LockBackendRedis = "redis"
	LockBackendEtcd  = "etcd"
	LockBackendTable = "table"

	StatsBackendNone   = "none"
	StatsBackendMemory = "memory"
	StatsBackendRedis  = "redis"
)

type Config struct {
	Mode     string  `yaml:"mode"`
	WorkerID int     `yaml:"worker_id"`
	Pool     Pool    `yaml:"pool"`
	SQL      SQL     `yaml:"sql"`
	Redis    Redis   `yaml:"redis"`
	Etcd     Etcd    `yaml:"etcd"`
	Lock     Lock    `yaml:"lock"`
	Tx       Tx      `yaml:"tx"`
	Scripts  Scripts `yaml:"scripts"`
	Stats    Stats   `yaml:"stats"`
	Log      Log     `yaml:"log"`
	Metrics  Metrics `yaml:"metrics"`
}

type Pool struct {
	Enabled        bool          `yaml:"enabled"`
	MaxActive      int           `yaml:"max_active"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
	DestroyTimeout time.Duration `yaml:"destroy_timeout"`
}

type SQL struct {
	Enabled        bool              `yaml:"enabled"`
	Driver         string            `yaml:"driver"`
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Username       string            `yaml:"username"`
	Password       string            `yaml:"password"`
	DBName         string            `yaml:"dbname"`
	Charset        string            `yaml:"charset"`
	Collation      string            `yaml:"collation"`
	Params         map[string]string `yaml:"params,omitempty"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	Debug          bool              `yaml:"debug"`
}

type Redis struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Password       string        `yaml:"password"`
	Database       int           `yaml:"database"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type Lock struct {
	Backend      string        `yaml:"backend"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	TTL          time.Duration `yaml:"ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Prefix       string        `yaml:"prefix"`
}

type Tx struct {
	Timeout time.Duration `yaml:"timeout"`
}

type Scripts struct {
	CacheDir string `yaml:"cache_dir"`
}

type Stats struct {
	Backend   string        `yaml:"backend"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
	TrackKeys bool          `yaml:"track_keys"`
}

type Log struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	Development bool     `yaml:"development"`
	OutputPaths []string `yaml:"output_paths"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default devolve a configuração padrão.
func Default() Config {
	return Config{
		Mode: "blocking",
		Pool: Pool{
			Enabled:        true,
			MaxActive:      10,
			IdleTimeout:    60 * time.Second,
			AcquireTimeout: 3 * time.Second,
			ReapInterval:   10 * time.Second,
			DestroyTimeout: 5 * time.Second,
		},
		SQL: SQL{
			Driver:         DriverMySQL,
			Host:           "127.0.0.1",
			Port:           3306,
			Username:       "root",
			Charset:        "utf8mb4",
			Collation:      "utf8mb4_general_ci",
			ConnectTimeout: 5 * time.Second,
		},
		Redis: Redis{
			Host:           "127.0.0.1",
			Port:           6379,
			ReadTimeout:    -1,
			ConnectTimeout: 5 * time.Second,
		},
		Etcd: Etcd{DialTimeout: 5 * time.Second},
		Lock: Lock{
			Backend:      LockBackendRedis,
			WaitTimeout:  10 * time.Second,
			TTL:          30 * time.Second,
			PollInterval: 20 * time.Millisecond,
			Prefix:       "redislock@",
		},
		Tx:    Tx{Timeout: 30 * time.Second},
		Stats: Stats{Backend: StatsBackendMemory, Prefix: "dal:stats", TTL: 24 * time.Hour, Bucket: "minute"},
		Log:   Log{Level: "info", Encoding: "json"},
		Metrics: Metrics{
			Addr: ":9090",
		},
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "blocking", "cooperative":
	default:
		errs = append(errs, fmt.Errorf("mode must be blocking or cooperative, got %q", c.Mode))
	}
	if c.WorkerID < 0 {
		errs = append(errs, errors.New("worker-id must be >= 0"))
	}
	if c.Pool.MaxActive <= 0 {
		errs = append(errs, errors.New("pool.max-active must be > 0"))
	}
	if c.SQL.Enabled && c.SQL.Driver != DriverMySQL && c.SQL.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("sql.driver must be mysql or postgres, got %q", c.SQL.Driver))
	}
	switch c.Lock.Backend {
	case LockBackendRedis:
		if c.Mode == "blocking" && !c.Redis.Enabled {
			errs = append(errs, errors.New("lock.backend=redis requires redis.enabled"))
		}
	case LockBackendEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("lock.backend=etcd requires etcd.endpoints"))
		}
	case LockBackendTable:
	default:
		errs = append(errs, fmt.Errorf("unknown lock.backend %q", c.Lock.Backend))
	}
	if c.Lock.PollInterval <= 0 {
		errs = append(errs, errors.New("lock.poll-interval must be > 0"))
	}
	switch c.Stats.Backend {
	case StatsBackendNone, StatsBackendMemory:
	case StatsBackendRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("stats.backend=redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stats.backend %q", c.Stats.Backend))
	}
	return errors.Join(errs...)
}

// Redacted devolve uma cópia sem senhas, para log e exibição.
func (c Config) Redacted() Config {
	if c.SQL.Password != "" {
		c.SQL.Password = "***"
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	return c
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode=%s worker=%d\n", c.Mode, c.WorkerID)
	fmt.Fprintf(&b, "pool: enabled=%v max=%d idle=%s acquire=%s\n",
		c.Pool.Enabled, c.Pool.MaxActive, c.Pool.IdleTimeout, c.Pool.AcquireTimeout)
	fmt.Fprintf(&b, "sql: enabled=%v driver=%s addr=%s:%d db=%q\n",
		c.SQL.Enabled, c.SQL.Driver, c.SQL.Host, c.SQL.Port, c.SQL.DBName)
	fmt.Fprintf(&b, "redis: enabled=%v addr=%s:%d db=%d\n",
		c.Redis.Enabled, c.Redis.Host, c.Redis.Port, c.Redis.Database)
	fmt.Fprintf(&b, "lock: backend=%s wait=%s ttl=%s\n", c.Lock.Backend, c.Lock.WaitTimeout, c.Lock.TTL)
	return b.String()
}
