package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dal-gateway/dal"
	dalconfig "dal-gateway/dal/config"
	"dal-gateway/dal/logger"
	"dal-gateway/middleware/ratelimit"

	"go.uber.org/zap"
)

func main() {
	// Exemplo: middleware embutido no próprio webserver (sem proxy), com a
	// camada de dados em modo cooperativo e tabelas em memória.
	if os.Getenv("DAL_MODE") == "" {
		_ = os.Setenv("DAL_MODE", "cooperative")
	}
	cfg, err := dalconfig.Load(os.Getenv("DAL_CONFIG"))
	if err != nil {
		panic(err)
	}
	cfg.Stats.TrackKeys = true

	log := logger.Must(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := dal.New(ctx, cfg, dal.WithLogger(log))
	if err != nil {
		log.Fatal("data access layer", zap.Error(err))
	}
	defer func() { _ = rt.Close(context.Background()) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		log.Debug("showTela acessado", zap.String("remote", r.RemoteAddr))
	})
	// Pedido demorado: o lock por cliente+rota impede submissão duplicada.
	mux.Handle("POST /orders", ratelimit.LockMiddleware(ratelimit.LockOptions{
		Locker: rt.Locker,
		TTL:    10 * time.Second,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	})))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"pools": rt.PoolStats()}
		if rt.Stats != nil {
			body["decisions"] = rt.Stats.ByKind()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	h := ratelimit.Middleware(ratelimit.Options{
		Limiter:             rt.Limiter,
		Limit:               10,
		Window:              time.Second,
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              log,
	})(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", zap.String("addr", addr), zap.String("mode", cfg.Mode))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", zap.Error(err))
	}
}
