package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/manpreetbhatti/coderoom/internal/api"
	"github.com/manpreetbhatti/coderoom/internal/config"
	"github.com/manpreetbhatti/coderoom/internal/registry"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/internal/store"
	"github.com/manpreetbhatti/coderoom/internal/sweeper"
	"github.com/manpreetbhatti/coderoom/internal/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "coderoom: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		port       int
	)
	flagSet := pflag.NewFlagSet("coderoom", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (watched for changes)")
	flagSet.IntVar(&port, "port", 0, "listen port (overrides config and PORT)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		RedisURL:    cfg.Store.RedisURL,
		RedisPrefix: cfg.Store.RedisPrefix,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("room store ready")

	reg := registry.New(st, logger)
	regCtx, stopRegistry := context.WithCancel(context.Background())
	go reg.Run(regCtx)
	defer func() {
		stopRegistry()
		<-reg.Done()
	}()

	wsHandler := ws.NewHandler(reg, ws.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MaxMessageSize:    cfg.Server.MaxMessageSize,
		SendBuffer:        cfg.Server.SendBuffer,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		MessageBurst:      cfg.RateLimit.MessageBurst,
		ConnectsPerMinute: cfg.RateLimit.ConnectsPerMinute,
		ConnectBurst:      cfg.RateLimit.ConnectBurst,
	}, logger)
	defer wsHandler.Stop()

	sweep := sweeper.New(reg, sweeper.Config{
		Interval: cfg.Sweep.Interval,
		IdleTTL:  cfg.Sweep.IdleTTL,
	}, logger)
	sweep.Start()
	defer sweep.Stop()

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				zerolog.SetGlobalLevel(next.LogLevel())
				sweep.SetPolicy(room.EvictionPolicy{IdleTTL: next.Sweep.IdleTTL})
				wsHandler.SetAllowedOrigins(next.Server.AllowedOrigins)
			})
			if err != nil {
				logger.Error().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	router := api.NewRouter(api.New(reg, logger), wsHandler, cfg.Server.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("env", cfg.Env).
			Msg("starting coderoom server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are closed by the registry shutdown
	// in the deferred calls above.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.LogLevel())

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
