package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type setter func(c *Config, v any) error

// aliases mapeia nomes alternativos aceitos para o nome canônico.
var aliases = map[string]string{
	"worker":         "worker-id",
	"sql.database":   "sql.dbname",
	"sql.user":       "sql.username",
	"redis.db":       "redis.database",
	"redis.select":   "redis.database",
	"pool.max":       "pool.max-active",
	"scripts.dir":    "scripts.cache-dir",
	"log.output":     "log.output-paths",
	"metrics.listen": "metrics.addr",
}

// mapValued são chaves cujo valor é um mapa (não devem ser achatadas).
var mapValued = map[string]bool{
	"sql.params": true,
}

var setters = map[string]setter{
	"mode":      str(func(c *Config) *string { return &c.Mode }),
	"worker-id": integer(func(c *Config) *int { return &c.WorkerID }),

	"pool.enabled":         boolean(func(c *Config) *bool { return &c.Pool.Enabled }),
	"pool.max-active":      integer(func(c *Config) *int { return &c.Pool.MaxActive }),
	"pool.idle-timeout":    duration(func(c *Config) *time.Duration { return &c.Pool.IdleTimeout }),
	"pool.acquire-timeout": duration(func(c *Config) *time.Duration { return &c.Pool.AcquireTimeout }),
	"pool.reap-interval":   duration(func(c *Config) *time.Duration { return &c.Pool.ReapInterval }),
	"pool.destroy-timeout": duration(func(c *Config) *time.Duration { return &c.Pool.DestroyTimeout }),

	"sql.enabled":         boolean(func(c *Config) *bool { return &c.SQL.Enabled }),
	"sql.driver":          str(func(c *Config) *string { return &c.SQL.Driver }),
	"sql.host":            str(func(c *Config) *string { return &c.SQL.Host }),
	"sql.port":            integer(func(c *Config) *int { return &c.SQL.Port }),
	"sql.username":        str(func(c *Config) *string { return &c.SQL.Username }),
	"sql.password":        str(func(c *Config) *string { return &c.SQL.Password }),
	"sql.dbname":          str(func(c *Config) *string { return &c.SQL.DBName }),
	"sql.charset":         str(func(c *Config) *string { return &c.SQL.Charset }),
	"sql.collation":       str(func(c *Config) *string { return &c.SQL.Collation }),
	"sql.connect-timeout": duration(func(c *Config) *time.Duration { return &c.SQL.ConnectTimeout }),
	"sql.debug":           boolean(func(c *Config) *bool { return &c.SQL.Debug }),
	"sql.params": func(c *Config, v any) error {
		m, err := asStringMap(v)
		if err != nil {
			return err
		}
		c.SQL.Params = m
		return nil
	},

	"redis.enabled":         boolean(func(c *Config) *bool { return &c.Redis.Enabled }),
	"redis.host":            str(func(c *Config) *string { return &c.Redis.Host }),
	"redis.port":            integer(func(c *Config) *int { return &c.Redis.Port }),
	"redis.password":        str(func(c *Config) *string { return &c.Redis.Password }),
	"redis.database":        integer(func(c *Config) *int { return &c.Redis.Database }),
	"redis.read-timeout":    duration(func(c *Config) *time.Duration { return &c.Redis.ReadTimeout }),
	"redis.connect-timeout": duration(func(c *Config) *time.Duration { return &c.Redis.ConnectTimeout }),

	"etcd.endpoints": func(c *Config, v any) error {
		s, err := asStrings(v)
		if err != nil {
			return err
		}
		c.Etcd.Endpoints = s
		return nil
	},
	"etcd.dial-timeout": duration(func(c *Config) *time.Duration { return &c.Etcd.DialTimeout }),

	"lock.backend":       str(func(c *Config) *string { return &c.Lock.Backend }),
	"lock.wait-timeout":  duration(func(c *Config) *time.Duration { return &c.Lock.WaitTimeout }),
	"lock.ttl":           duration(func(c *Config) *time.Duration { return &c.Lock.TTL }),
	"lock.poll-interval": duration(func(c *Config) *time.Duration { return &c.Lock.PollInterval }),
	"lock.prefix":        str(func(c *Config) *string { return &c.Lock.Prefix }),

	"tx.timeout": duration(func(c *Config) *time.Duration { return &c.Tx.Timeout }),

	"scripts.cache-dir": str(func(c *Config) *string { return &c.Scripts.CacheDir }),

	"stats.backend":    str(func(c *Config) *string { return &c.Stats.Backend }),
	"stats.prefix":     str(func(c *Config) *string { return &c.Stats.Prefix }),
	"stats.ttl":        duration(func(c *Config) *time.Duration { return &c.Stats.TTL }),
	"stats.bucket":     str(func(c *Config) *string { return &c.Stats.Bucket }),
	"stats.track-keys": boolean(func(c *Config) *bool { return &c.Stats.TrackKeys }),

	"log.level":       str(func(c *Config) *string { return &c.Log.Level }),
	"log.encoding":    str(func(c *Config) *string { return &c.Log.Encoding }),
	"log.development": boolean(func(c *Config) *bool { return &c.Log.Development }),
	"log.output-paths": func(c *Config, v any) error {
		s, err := asStrings(v)
		if err != nil {
			return err
		}
		c.Log.OutputPaths = s
		return nil
	},

	"metrics.enabled": boolean(func(c *Config) *bool { return &c.Metrics.Enabled }),
	"metrics.addr":    str(func(c *Config) *string { return &c.Metrics.Addr }),
}

// Keys lista as chaves reconhecidas (forma canônica, separador ".").
func Keys() []string {
	out := make([]string, 0, len(setters))
	for k := range setters {
		out = append(out, k)
	}
	return out
}

// Parse aplica settings sobre Default(). Chaves aninhadas ou com pontos são
// aceitas; "_" e "-" são equivalentes e maiúsculas são ignoradas.
func Parse(settings map[string]any) (Config, error) {
	cfg := Default()
	flat := make(map[string]any)
	flatten("", settings, flat)

	for k, v := range flat {
		set, ok := setters[k]
		if !ok {
			continue
		}
		if v == nil {
			continue
		}
		if err := set(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", k, err)
		}
	}
	return cfg, nil
}

func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, "_", "-")
	if a, ok := aliases[k]; ok {
		return a
	}
	return k
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		key = NormalizeKey(key)
		if !mapValued[key] {
			switch m := v.(type) {
			case map[string]any:
				flatten(key, m, out)
				continue
			case map[any]any:
				flatten(key, stringKeys(m), out)
				continue
			}
		}
		out[key] = v
	}
}

func stringKeys(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}

func str(field func(*Config) *string) setter {
	return func(c *Config, v any) error {
		s, err := asString(v)
		if err != nil {
			return err
		}
		*field(c) = s
		return nil
	}
}

func integer(field func(*Config) *int) setter {
	return func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) setter {
	return func(c *Config, v any) error {
		b, err := asBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) setter {
	return func(c *Config, v any) error {
		d, err := asDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case []byte:
		return strings.TrimSpace(string(x)), nil
	case int, int64, int32, uint, uint64, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("expected integer, got %v", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("expected bool, got %q", x)
		}
		return b, nil
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

// asDuration aceita time.Duration, "1.5s"/"200ms" ou número de segundos.
func asDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("expected duration, got %q", x)
		}
		return d, nil
	}
	return 0, fmt.Errorf("expected duration, got %T", v)
}

func asStrings(v any) ([]string, error) {
	var out []string
	switch x := v.(type) {
	case []string:
		out = append(out, x...)
	case []any:
		for _, e := range x {
			s, err := asString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	case string:
		out = append(out, strings.Split(x, ",")...)
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}

	clean := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	return clean, nil
}

func asStringMap(v any) (map[string]string, error) {
	out := make(map[string]string)
	switch x := v.(type) {
	case map[string]string:
		for k, s := range x {
			out[k] = s
		}
	case map[string]any:
		for k, e := range x {
			s, err := asString(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = s
		}
	case map[any]any:
		return asStringMap(stringKeys(x))
	case string:
		for _, pair := range strings.Split(x, ",") {
			if strings.TrimSpace(pair) == "" {
				continue
			}
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("expected key=value, got %q", pair)
			}
			out[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", v)
	}
	return out, nil
}
