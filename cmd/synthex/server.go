package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/synthex/internal/api"
	"github.com/kalambet/synthex/internal/config"
	"github.com/kalambet/synthex/internal/provider"
	"github.com/kalambet/synthex/internal/relay"
	"github.com/kalambet/synthex/internal/retention"
	"github.com/kalambet/synthex/internal/session"
	"github.com/kalambet/synthex/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP relay server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the relay as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMCP(ctx)
	},
}

// app holds the long-lived components shared by serve and mcp.
type app struct {
	cfg      config.Config
	provider *provider.Client
	contexts session.Store
	store    *storage.Store // nil when history is disabled
	relay    *relay.Service
}

// loadConfig loads and validates configuration and installs the logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildApp wires the provider client, context store, history and relay.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	client, err := provider.NewClient(cfg.Provider.APIKey,
		provider.WithBaseURL(cfg.Provider.BaseURL),
		provider.WithModel(cfg.Provider.Model),
		provider.WithTemperature(cfg.Provider.Temperature),
		provider.WithTimeout(cfg.Provider.Timeout),
		provider.WithMaxAttempts(cfg.Provider.MaxAttempts),
	)
	if err != nil {
		return nil, err
	}

	contexts, err := openContextStore(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, provider: client, contexts: contexts}
	opts := []relay.Option{relay.WithModelName(client.Model())}
	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			contexts.Close()
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		opts = append(opts, relay.WithRecorder(store))
	}
	a.relay = relay.New(client, contexts, opts...)
	return a, nil
}

func openContextStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	opts := []session.StoreOption{session.WithMaxEntries(cfg.MaxEntries)}
	if session.StoreType(cfg.Backend) == session.StoreTypeRedis {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing session.redis_url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", redisOpts.Addr, err)
		}
		opts = append(opts, session.WithRedisClient(client), session.WithRedisTTL(cfg.TTL))
	}

	store, err := session.NewStore(session.StoreType(cfg.Backend), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	return store, nil
}

// history returns the store as an api.History, or nil when disabled. A nil
// *storage.Store must not leak into the interface.
func (a *app) history() api.History {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) handler() http.Handler {
	return api.NewHandler(api.Deps{
		Relay:            a.relay,
		Models:           a.provider,
		History:          a.history(),
		Version:          version,
		Token:            a.cfg.Server.Token,
		RequireSessionID: a.cfg.Session.RequireID,
		MaxUploadBytes:   a.cfg.Upload.MaxBytes,
		Logger:           slog.Default(),
	})
}

func (a *app) Close() error {
	var errs []error
	if err := a.contexts.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing session store: %w", err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func runServer(ctx context.Context) error {
	fmt.Fprintln(stderr, versionString())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	return serve(ctx, a, ln)
}

// serve runs the HTTP server and the retention worker on ln until ctx is
// cancelled or the server fails.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Requests outlive ctx so Shutdown can drain them.
		BaseContext: func(_ net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("synthex listening",
			"addr", ln.Addr().String(),
			"model", a.provider.Model(),
			"session_backend", a.cfg.Session.Backend,
			"history", a.store != nil,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.store != nil {
		worker := retention.NewWorker(a.store, a.cfg.Storage.Retain, 0)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	return g.Wait()
}

func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Relay:   a.relay,
		History: a.history(),
		Version: version,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
