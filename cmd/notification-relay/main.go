package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sungwon/notification-relay/internal/api"
	"github.com/sungwon/notification-relay/internal/auth"
	"github.com/sungwon/notification-relay/internal/broker"
	"github.com/sungwon/notification-relay/internal/config"
	"github.com/sungwon/notification-relay/internal/delivery"
	"github.com/sungwon/notification-relay/internal/logger"
	"github.com/sungwon/notification-relay/internal/mailer"
	"github.com/sungwon/notification-relay/internal/storage"
	"github.com/sungwon/notification-relay/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "genkey" {
		key, hash, err := auth.NewKeyPair()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("api key:      %s\napi_key_hash: %s\n", key, hash)
		return
	}

	configPath := os.Getenv("RELAY_CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().
		Str("broker", cfg.Broker.Type).
		Bool("send_auth", cfg.HTTP.APIKeyHash != "").
		Str("queue", cfg.Broker.Queue).
		Msg("starting notification relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audit store. Startup aborts when the database is unreachable.
	db, err := storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	audit := storage.NewAuditStore(db.Pool)

	// Mail transport. Missing credentials do not stop startup; every send
	// fails until the process is restarted with them set.
	if !cfg.MailCredentialsSet() {
		log.Warn().Msg("mail credentials not set, every send will fail")
	}
	transport := mailer.NewSMTPTransport(mailer.Config{
		User:     cfg.Mail.User,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		TLS:      cfg.Mail.TLS,
		Timeout:  cfg.Mail.Timeout,
	}, log)

	svc := delivery.NewService(transport, audit, log)
	handler := worker.NewHandler(svc, cfg.Broker.ProcessTimeout, log)

	// Broker. The first connection must succeed; later losses are redialed.
	dialer, err := broker.NewDialer(cfg.Broker, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create broker dialer")
	}
	supervisor := broker.NewSupervisor(dialer, handler, broker.NewBackoff(cfg.Broker.ReconnectMin, cfg.Broker.ReconnectMax), log)
	if err := supervisor.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}

	router := api.NewRouter(svc, db, supervisor, api.RouterConfig{
		APIKeyHash:  cfg.HTTP.APIKeyHash,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, log)
	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := supervisor.Run(ctx); err != nil {
			log.Error().Err(err).Msg("consumer stopped")
		}
	}()

	log.Info().Msg("notification relay started")
	<-ctx.Done()

	log.Info().Msg("shutting down notification relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("consumer did not stop before shutdown timeout")
	}

	log.Info().Msg("notification relay stopped")
}
