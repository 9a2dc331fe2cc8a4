package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/openchatroom/internal/auth"
	"github.com/Tyrowin/openchatroom/internal/broker"
	"github.com/Tyrowin/openchatroom/internal/chat"
	"github.com/Tyrowin/openchatroom/internal/config"
	"github.com/Tyrowin/openchatroom/internal/metrics"
	"github.com/Tyrowin/openchatroom/internal/objectstore"
	"github.com/Tyrowin/openchatroom/internal/server"
	"github.com/Tyrowin/openchatroom/internal/store"
)

const (
	startupTimeout       = 30 * time.Second
	sessionSweepInterval = time.Hour
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// shared holds the bus, presence and counter used by the hub, either on
// Redis or in process.
type shared struct {
	bus      chat.Bus
	presence chat.Presence
	counter  chat.Counter
	close    func() error
}

func connectShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*shared, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured; running single-instance")
		bus := chat.NewLocalBus()
		return &shared{
			bus:      bus,
			presence: chat.NewMemoryPresence(),
			counter:  chat.NewMemoryCounter(),
			close:    bus.Close,
		}, nil
	}

	client, err := broker.Connect(ctx, broker.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}

	presence := broker.NewPresence(client, cfg.Server.InstanceID, logger)
	if _, err := presence.Reclaim(ctx); err != nil {
		logger.Warn("could not reclaim stale presence", slog.Any("error", err))
	}
	logger.Info("connected to redis", slog.String("addr", cfg.Redis.Addr), slog.String("instance", cfg.Server.InstanceID))

	return &shared{
		bus:      broker.NewBus(client, logger),
		presence: presence,
		counter:  broker.NewCounter(client),
		close:    client.Close,
	}, nil
}

func newUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (server.Uploader, error) {
	if cfg.Storage.Endpoint == "" {
		logger.Info("object storage not configured; uploads disabled")
		return nil, nil
	}
	files, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		Secure:    cfg.Storage.Secure,
	}, logger)
	if err != nil {
		return nil, err
	}
	// Uploads may still work with credentials that cannot create buckets.
	_ = files.EnsureBucket(ctx)
	return files, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := openStore(startCtx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	deps, err := connectShared(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.Warn("closing shared services failed", slog.Any("error", err))
		}
	}()

	uploader, err := newUploader(startCtx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("using the default session secret; set auth.sessionSecret in production")
	}
	sessions, err := auth.NewManager(db, cfg.Auth.SessionSecret, cfg.Auth.SessionTTL, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry, metrics.WithConstLabels(prometheus.Labels{"instance": cfg.Server.InstanceID}))

	filter := chat.NewFilter(deps.counter, chat.FilterConfig{
		BlockedTerms: cfg.Abuse.BlockedTerms,
		Limit:        cfg.Abuse.Limit,
		Window:       cfg.Abuse.Window,
	}, logger)

	connCfg := chat.DefaultConnConfig()
	connCfg.MaxMessageSize = cfg.Server.MaxMessageSize

	hub, err := chat.NewHub(chat.HubConfig{
		Bus:      deps.bus,
		Presence: deps.presence,
		Filter:   filter,
		Store:    db,
		Auth:     sessions,
		Metrics:  m,
		Logger:   logger,
		Conn:     connCfg,
	})
	if err != nil {
		return err
	}

	api, err := server.New(server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SecureCookies:  cfg.Server.SecureCookies,
	}, server.Deps{
		Store:    db,
		Sessions: sessions,
		Hub:      hub,
		Uploader: uploader,
		Metrics:  m,
		Gatherer: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	go sweepSessions(ctx, db, logger)

	httpServer := server.CreateServer(cfg.Server.Address, api.Routes())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("http shutdown failed", slog.Any("error", err))
	}

	hubCtx, hubCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer hubCancel()
	if err := hub.Shutdown(hubCtx); err != nil {
		logger.Error("hub shutdown failed", slog.Any("error", err))
	}
	return nil
}

// sweepSessions deletes expired login sessions until ctx ends.
func sweepSessions(ctx context.Context, db *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := db.DeleteExpiredSessions(ctx, now)
			if err != nil {
				logger.Warn("session sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", slog.Int64("count", n))
			}
		}
	}
}
