package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dal-gateway/dal"
	dalconfig "dal-gateway/dal/config"
	"dal-gateway/dal/logger"
	"dal-gateway/middleware/ratelimit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	boot := logger.Must(dalconfig.Default().Log)

	cfg, err := readConfig()
	if err != nil {
		boot.Fatal("config error", zap.Error(err))
	}

	// sem arquivo nem Redis configurados, o lock fica em memória (uma instância só)
	if cfg.dalConfigPath == "" && os.Getenv("DAL_REDIS_ENABLED") == "" && os.Getenv("DAL_LOCK_BACKEND") == "" {
		_ = os.Setenv("DAL_LOCK_BACKEND", dalconfig.LockBackendTable)
	}

	dalCfg, err := dalconfig.Load(cfg.dalConfigPath)
	if err != nil {
		boot.Fatal("dal config error", zap.Error(err))
	}

	log, err := logger.New(dalCfg.Log)
	if err != nil {
		boot.Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := dal.New(ctx, dalCfg, dal.WithLogger(log), dal.WithRegisterer(reg))
	if err != nil {
		log.Fatal("data access layer", zap.Error(err))
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Warn("close data access layer", zap.Error(err))
		}
	}()

	h := http.Handler(proxy)
	if cfg.lockEnabled {
		h = methodFilter(cfg.lockMethods, ratelimit.LockMiddleware(ratelimit.LockOptions{
			Locker:      rt.Locker,
			KeyFn:       lockKeyFunc(cfg),
			WaitTimeout: cfg.lockWait,
			TTL:         cfg.lockTTL,
		}))(h)
	}
	if cfg.rateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Limiter:             rt.Limiter,
			Limit:               cfg.rateLimit,
			Window:              cfg.rateWindow,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			AddRateLimitHeaders: cfg.addHeaders,
			Logger:              log,
		})(h)
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	var metricsSrv *http.Server
	if dalCfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: dalCfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	log.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.Stringer("upstream", target),
		zap.String("mode", dalCfg.Mode),
	)
	log.Info("rate",
		zap.Bool("enabled", cfg.rateEnabled),
		zap.Int("limit", cfg.rateLimit),
		zap.Duration("window", cfg.rateWindow),
		zap.String("key_header", cfg.rateKeyHeader),
		zap.Bool("trust_xff", cfg.trustXFF),
	)
	log.Info("lock",
		zap.Bool("enabled", cfg.lockEnabled),
		zap.Strings("methods", cfg.lockMethods),
		zap.Duration("wait", cfg.lockWait),
		zap.Duration("ttl", cfg.lockTTL),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", zap.Error(err))
	}
}

// methodFilter aplica mw só aos métodos listados; os demais passam direto.
func methodFilter(methods []string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, m := range methods {
				if r.Method == m {
					guarded.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func lockKeyFunc(cfg config) ratelimit.KeyFunc {
	client := ratelimit.DefaultKeyFunc(cfg.rateKeyHeader, cfg.trustXFF)
	return func(r *http.Request) string {
		return "gateway:" + client(r) + "@" + r.Method + " " + r.URL.Path
	}
}

type config struct {
	listenAddr    string
	upstreamURL   string
	dalConfigPath string

	rateEnabled   bool
	rateLimit     int
	rateWindow    time.Duration
	rateKeyHeader string
	trustXFF      bool
	addHeaders    bool

	lockEnabled bool
	lockMethods []string
	lockWait    time.Duration
	lockTTL     time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.dalConfigPath = os.Getenv("DAL_CONFIG")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateLimit = getenvIntDefault("RATE_LIMIT", 60)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", time.Minute)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.lockEnabled = getenvBoolDefault("LOCK_ENABLED", false)
	cfg.lockMethods = strings.Fields(strings.ReplaceAll(getenvDefault("LOCK_METHODS", "POST,PUT,PATCH,DELETE"), ",", " "))
	cfg.lockWait = getenvDurationDefault("LOCK_WAIT", 0)
	cfg.lockTTL = getenvDurationDefault("LOCK_TTL", 30*time.Second)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateLimit <= 0 {
		return config{}, errors.New("RATE_LIMIT must be > 0")
	}
	if cfg.rateWindow < time.Second {
		return config{}, errors.New("RATE_WINDOW must be >= 1s")
	}
	if cfg.lockWait < 0 {
		return config{}, errors.New("LOCK_WAIT must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
