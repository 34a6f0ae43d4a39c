// Command conveyord runs the Conveyor server: the job engine, worker
// pool, and the wire protocol endpoints (WebSocket, SSE, HTTP RPC).
//
// Configuration comes from CONVEYOR_* environment variables; see the
// serverConfig struct and conveyor.Config for the full list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/store"
	"github.com/conveyorhq/conveyor/store/memory"
	"github.com/conveyorhq/conveyor/store/postgres"
	storeredis "github.com/conveyorhq/conveyor/store/redis"
	"github.com/conveyorhq/conveyor/wire"
)

type serverConfig struct {
	ListenAddr    string `env:"CONVEYOR_LISTEN_ADDR" envDefault:":8080"`
	StoreBackend  string `env:"CONVEYOR_STORE" envDefault:"memory"`
	QueueBackend  string `env:"CONVEYOR_QUEUE" envDefault:"memory"`
	RedisAddr     string `env:"CONVEYOR_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"CONVEYOR_REDIS_PASSWORD"`
	PostgresDSN   string `env:"CONVEYOR_POSTGRES_DSN"`
	APIKey        string `env:"CONVEYOR_API_KEY"`
	LogLevel      string `env:"CONVEYOR_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "conveyord:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srvCfg serverConfig
	if err := env.Parse(&srvCfg); err != nil {
		return fmt.Errorf("parse server config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(srvCfg.LogLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := conveyor.FromEnv()
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	// A single Redis client is shared by the store and the queue when
	// both use Redis.
	var redisClient *goredis.Client
	redisFor := func() *goredis.Client {
		if redisClient == nil {
			redisClient = goredis.NewClient(&goredis.Options{
				Addr:     srvCfg.RedisAddr,
				Password: srvCfg.RedisPassword,
			})
		}
		return redisClient
	}
	defer func() {
		if redisClient != nil {
			redisClient.Close() //nolint:errcheck
		}
	}()

	st, err := buildStore(ctx, srvCfg, redisFor, logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	q, err := buildQueue(cfg, srvCfg, redisFor)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, st, q, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	registerBuiltins(eng, logger)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	wireOpts := []wire.Option{wire.WithLogger(logger)}
	if srvCfg.APIKey != "" {
		wireOpts = append(wireOpts, wire.WithAuth(wire.NewAPIKeyAuthenticator(wire.APIKeyEntry{
			Token:    srvCfg.APIKey,
			Identity: wire.Identity{Subject: "operator", Scopes: []string{wire.ScopeAll}},
		})))
	} else {
		logger.Warn("CONVEYOR_API_KEY not set, accepting all clients")
	}
	srv := wire.NewServer(eng, wireOpts...)

	httpSrv := &http.Server{
		Addr:              srvCfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			slog.String("addr", srvCfg.ListenAddr),
			slog.String("store", srvCfg.StoreBackend),
			slog.String("queue", srvCfg.QueueBackend),
		)
		if serveErr := httpSrv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if shutdownErr := httpSrv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("http shutdown error", slog.String("error", shutdownErr.Error()))
		}
		return eng.Stop(shutdownCtx)
	})

	return g.Wait()
}

func buildStore(ctx context.Context, srvCfg serverConfig, redisFor func() *goredis.Client, logger *slog.Logger) (store.Store, error) {
	switch srvCfg.StoreBackend {
	case "memory":
		return memory.New(), nil
	case "redis":
		return storeredis.New(redisFor(), storeredis.WithLogger(logger)), nil
	case "postgres":
		if srvCfg.PostgresDSN == "" {
			return nil, errors.New("CONVEYOR_POSTGRES_DSN is required for the postgres store")
		}
		return postgres.New(ctx, srvCfg.PostgresDSN, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store backend %q", srvCfg.StoreBackend)
	}
}

func buildQueue(cfg conveyor.Config, srvCfg serverConfig, redisFor func() *goredis.Client) (queue.Queue, error) {
	switch srvCfg.QueueBackend {
	case "memory":
		return queue.NewMemory(cfg.QueueCapacity), nil
	case "redis":
		return queue.NewRedis(redisFor()), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", srvCfg.QueueBackend)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
