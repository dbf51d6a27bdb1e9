// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/switchboard/authstore"
	"github.com/bureau-foundation/switchboard/engine"
	"github.com/bureau-foundation/switchboard/lib/adminsock"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/logging"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/version"
	"github.com/bureau-foundation/switchboard/stealth"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/telemetry"
	"github.com/bureau-foundation/switchboard/transport"
	"github.com/bureau-foundation/switchboard/transport/matrix"
	"github.com/bureau-foundation/switchboard/transport/memory"
)

// shutdownTimeout bounds how long instances get to stop after a
// signal.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("switchboardd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "configuration file (default $"+config.EnvironmentVariable+", else built-in defaults)")
	transportName := flags.String("transport", "", "override transport.name (matrix or memory)")
	logLevel := flags.String("log-level", "", "override log.level")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("switchboardd %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *transportName != "" {
		cfg.Transport.Name = *transportName
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, clock.Real(), logger)
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	}
	cfg, err := config.Parse(nil)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the daemon until ctx ends.
func serve(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) error {
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	location, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("stealth location: %w", err)
	}

	db, err := store.Open(ctx, store.Config{Path: cfg.Paths.Database, Logger: logger.With("component", "store")})
	if err != nil {
		return err
	}
	defer db.Close()

	var sealer sealed.Sealer = sealed.Plain{}
	if cfg.Paths.Identity != "" {
		ageSealer, err := sealed.LoadOrCreateIdentity(cfg.Paths.Identity)
		if err != nil {
			return err
		}
		logger.Info("sealing auth material", "recipient", ageSealer.Recipient())
		sealer = ageSealer
	} else {
		logger.Warn("auth material is stored unencrypted; set paths.identity to seal it")
	}
	auth, err := authstore.New(authstore.Config{Root: cfg.Paths.Auth, Sealer: sealer, Logger: logger.With("component", "authstore")})
	if err != nil {
		return err
	}

	dialer, err := newDialer(cfg.Transport, clk)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	var sink telemetry.Sink = telemetry.LogSink{Logger: logger.With("component", "telemetry")}
	if cfg.Telemetry.SocketPath != "" {
		socketSink, err := telemetry.NewSocketSink(telemetry.SocketConfig{
			SocketPath: cfg.Telemetry.SocketPath,
			Rate:       cfg.Telemetry.Rate,
			Burst:      cfg.Telemetry.Burst,
			Clock:      clk,
			Logger:     logger.With("component", "telemetry"),
		})
		if err != nil {
			return err
		}
		group.Go(func() error {
			socketSink.Run(groupCtx, cfg.Telemetry.FlushInterval)
			return nil
		})
		sink = socketSink
	}

	registry := engine.New(engine.Config{
		Store:       db,
		Auth:        auth,
		Dialer:      dialer,
		Telemetry:   sink,
		Location:    location,
		BaseDelay:   cfg.Traffic.BaseDelay,
		WarmupExtra: cfg.Traffic.WarmupExtra,
		Clock:       clk,
		Logger:      logger,
	})
	if err := registry.StartAll(ctx); err != nil {
		logger.Error("some instances failed to start", "error", err)
	}

	if cfg.Stealth.ImportDir != "" {
		if err := os.MkdirAll(cfg.Stealth.ImportDir, 0o700); err != nil {
			return fmt.Errorf("creating schedule import directory: %w", err)
		}
		importer, err := stealth.NewImporter(stealth.ImporterConfig{
			Directory:    cfg.Stealth.ImportDir,
			Apply:        registry.ReplaceSchedules,
			ParseAddress: dialer.ParseAddress,
			Clock:        clk,
			Logger:       logger.With("component", "schedule_import"),
		})
		if err != nil {
			return err
		}
		group.Go(func() error { return importer.Run(groupCtx) })
	}

	server := adminsock.NewServer(cfg.Admin.SocketPath, logger.With("component", "admin"))
	(&admin{engine: registry, transport: dialer.Name(), clock: clk, startedAt: clk.Now()}).register(server)
	group.Go(func() error { return server.Serve(groupCtx) })

	logger.Info("switchboard started",
		"version", version.Info(),
		"transport", dialer.Name(),
		"instances", len(registry.ListInstances()),
	)

	waitErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := registry.Shutdown(shutdownCtx)
	logger.Info("switchboard stopped")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return errors.Join(waitErr, shutdownErr)
	}
	return shutdownErr
}

func newDialer(cfg config.TransportConfig, clk clock.Clock) (transport.Dialer, error) {
	switch cfg.Name {
	case "memory":
		return memory.NewDialer(), nil
	case "matrix":
		return matrix.NewDialer(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			ServerName:  cfg.Matrix.ServerName,
			DeviceName:  cfg.Matrix.DeviceName,
			SyncTimeout: cfg.Matrix.SyncTimeout,
			Clock:       clk,
		})
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Name)
}
