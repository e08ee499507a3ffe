package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/config"
	"github.com/guruprasath0306/Silo-Monitor/internal/db"
	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
	"github.com/guruprasath0306/Silo-Monitor/internal/httpapi"
	"github.com/guruprasath0306/Silo-Monitor/internal/migrate"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/controller"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/registry"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/repository"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/service"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/views"
	"github.com/guruprasath0306/Silo-Monitor/internal/mqtt"
)

const (
	hubBuffer       = 64
	connectTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"outboxMaxAttempts", cfg.OutboxMaxAttempts,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn); err != nil {
		return err
	}
	logger.Info("database ready")

	if err := views.LoadTemplates(); err != nil {
		return err
	}

	hub := feed.NewHub(logger, hubBuffer)
	defer hub.Close()

	svc := service.NewService(repository.NewRepository(dbConn), hub, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// Start the publisher before the registry seeds the table so the seed
	// inserts reach the broker too.
	var broker httpapi.BrokerStatus
	var publisher *mqtt.Publisher
	if cfg.MQTTEnabled {
		publisher = mqtt.NewPublisher(cfg, logger)
		if err := connectMQTT(ctx, publisher); err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
			g.Go(func() error {
				retryMQTT(gctx, publisher, logger)
				return nil
			})
		}
		broker = publisher
		g.Go(func() error { return publisher.Run(gctx, hub) })
	}

	reg := registry.New(svc, hub, registry.Options{
		Logger:         logger,
		Actions:        svc,
		MaxAttempts:    cfg.OutboxMaxAttempts,
		InitialBackoff: cfg.OutboxInitialBackoff,
		MaxBackoff:     cfg.OutboxMaxBackoff,
		OnChange: func(silos []types.Silo) {
			counts := types.CountByStatus(silos)
			logger.Debug("silos changed",
				"count", len(silos),
				"critical", counts[types.StatusCritical],
				"warning", counts[types.StatusWarning],
			)
		},
	})
	// abort unwinds everything started so far when startup fails.
	abort := func(err error) error {
		cancel()
		if closeErr := reg.Close(); closeErr != nil {
			logger.Error("registry close", "error", closeErr)
		}
		_ = g.Wait()
		if publisher != nil {
			publisher.Disconnect()
		}
		return err
	}

	if err := reg.Start(ctx); err != nil {
		return abort(err)
	}

	codec, err := auth.NewTokenCodec(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return abort(err)
	}

	mux := httpapi.NewMux(dbConn, hub, broker, logger)
	controller.NewSiloController(svc, reg, codec, auth.NewCredentialStore(dbConn), controller.Options{
		Logger:        logger,
		APIKey:        cfg.APIKey,
		SecureCookies: cfg.AppEnv == "prod",
	}).RegisterRoutes(mux)

	srv := httpapi.NewServer(cfg, codec.Middleware(mux), logger)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := reg.Drain(shutdownCtx); err != nil {
			logger.Warn("registry drain incomplete", "pending", len(reg.Pending()), "error", err)
		}
		if err := reg.Close(); err != nil {
			logger.Error("registry close", "error", err)
		}

		logger.Info("http shutting down")
		err := srv.Shutdown(shutdownCtx)

		// Closing the hub ends the feed streams and the publisher loop.
		hub.Close()
		if publisher != nil {
			logger.Info("mqtt disconnecting")
			publisher.Disconnect()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func connectMQTT(ctx context.Context, p *mqtt.Publisher) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return p.Connect(connectCtx)
}

// retryMQTT keeps trying the initial broker connection; once connected, paho
// handles reconnects itself.
func retryMQTT(ctx context.Context, p *mqtt.Publisher, logger *slog.Logger) {
	ticker := time.NewTicker(connectTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := connectMQTT(ctx, p)
		if err == nil {
			return
		}
		if errors.Is(err, mqtt.ErrStopped) || ctx.Err() != nil {
			return
		}
		logger.Debug("mqtt connect retry failed", "error", err)
	}
}
