// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/lib/adminsock"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/logging"
	"github.com/bureau-foundation/switchboard/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand: where the daemon
// listens and where output goes.
type app struct {
	client  *adminsock.Client
	logger  *slog.Logger
	timeout time.Duration
	json    bool
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var (
		socketPath  string
		configPath  string
		timeout     time.Duration
		jsonOutput  bool
		verbose     bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("switchboard", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&socketPath, "socket", "", "admin socket path (overrides the configuration)")
	flagSet.StringVarP(&configPath, "config", "c", "", "configuration file used to locate the admin socket")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	flagSet.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log each admin request to stderr")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			root(nil).printHelp(stderr)
			fmt.Fprintf(stderr, "\nGlobal flags:\n%s", flagSet.FlagUsages())
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "switchboard %s\n", version.Full())
		return nil
	}

	if socketPath == "" {
		path, err := socketFromConfig(configPath)
		if err != nil {
			return err
		}
		socketPath = path
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{Level: level, Output: stderr})
	if err != nil {
		return err
	}
	defer closeLog()

	a := &app{
		client:  adminsock.NewClient(socketPath),
		logger:  logger.With("socket", socketPath),
		timeout: timeout,
		json:    jsonOutput,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
	return root(a).execute(ctx, flagSet.Args(), stderr)
}

// socketFromConfig resolves the admin socket the daemon would use
// given the same configuration source.
func socketFromConfig(path string) (string, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return "", err
	}
	return cfg.Admin.SocketPath, nil
}

// call performs one admin request bounded by the configured timeout.
func (a *app) call(ctx context.Context, action string, fields map[string]any, result any) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	started := time.Now()
	err := a.client.Call(ctx, action, fields, result)
	a.logger.Debug("admin request", "action", action, "duration", time.Since(started), "error", err)
	return err
}
