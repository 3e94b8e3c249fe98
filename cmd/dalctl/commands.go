package main

import (
	"context"
	"fmt"
	"time"

	"dal-gateway/dal"
	"dal-gateway/dal/config"
	"dal-gateway/dal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// app guarda o estado compartilhado entre os subcomandos.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        config.Config
	rt         *dal.Runtime
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:          "dalctl",
		Short:        "Operate locks, rate limits and backends of the data access layer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv()
			cfg, err := config.LoadViper(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.rt == nil {
				return nil
			}
			return a.rt.Close(context.Background())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	pf.String("mode", "blocking", "execution mode: blocking or cooperative")
	pf.Bool("redis", false, "enable redis")
	pf.String("redis-host", "127.0.0.1", "redis host")
	pf.Int("redis-port", 6379, "redis port")
	pf.String("lock-backend", config.LockBackendRedis, "lock backend: redis, etcd or table")
	pf.StringSlice("etcd-endpoints", nil, "etcd endpoints")
	pf.String("log-level", "warn", "log level")
	for flag, key := range map[string]string{
		"mode":           "mode",
		"redis":          "redis.enabled",
		"redis-host":     "redis.host",
		"redis-port":     "redis.port",
		"lock-backend":   "lock.backend",
		"etcd-endpoints": "etcd.endpoints",
		"log-level":      "log.level",
	} {
		// BindPFlag só falha com flag nil.
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(a.lockCmd(), a.rateLimitCmd(), a.pingCmd(), a.configCmd())
	return root
}

// runtime monta a camada de dados sob demanda; fechada no PostRun.
func (a *app) runtime(ctx context.Context) (*dal.Runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	log, err := logger.New(a.cfg.Log)
	if err != nil {
		return nil, err
	}
	rt, err := dal.New(ctx, a.cfg, dal.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a.rt = rt
	return rt, nil
}

func (a *app) lockCmd() *cobra.Command {
	var wait, ttl time.Duration

	cmd := &cobra.Command{Use: "lock", Short: "Acquire and release distributed locks"}

	acquire := &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock and print its token",
		Long:  "Acquire a lock and print its token. The lock is kept until release or until the TTL expires.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			tk := rt.Locker.NewTicket(args[0])
			if !tk.TryLock(cmd.Context(), wait, ttl) {
				fmt.Fprintln(cmd.OutOrStdout(), "acquired=false")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "acquired=true token=%s\n", tk.Token())
			return nil
		},
	}
	acquire.Flags().DurationVar(&wait, "wait", 0, "how long to keep trying (0 for a single attempt)")
	acquire.Flags().DurationVar(&ttl, "ttl", 30*time.Second, "lock expiry")

	release := &cobra.Command{
		Use:   "release [key] [token]",
		Short: "Release a lock held with the given token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := rt.Locker.ReleaseToken(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to release lock: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released=%v\n", ok)
			return nil
		},
	}

	cmd.AddCommand(acquire, release)
	return cmd
}

func (a *app) rateLimitCmd() *cobra.Command {
	var (
		limit  int
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ratelimit [identifier]",
		Short: "Consume one unit of the identifier's window and print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			lim := rt.Limiter.For(args[0], limit, window)
			w, err := lim.GetLimit(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key=%s\n", lim.Key())
			fmt.Fprintf(out, "reached=%v remaining=%d reset=%s\n", w.Reached(), max(w.Remaining, 0), w.ResetAt.Format(time.RFC3339))
			if w.Reached() {
				fmt.Fprintf(out, "retry_after=%s\n", w.RetryAfter)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 60, "requests per window")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "window length (>= 1s)")
	return cmd
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the configured SQL and Redis backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{Use: "config", Short: "Inspect the effective configuration"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Redacted()
			switch format {
			case "text":
				fmt.Fprint(cmd.OutOrStdout(), cfg.String())
				return nil
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
	show.Flags().StringVar(&format, "format", "yaml", "output format: yaml or text")
	cmd.AddCommand(show)
	return cmd
}
