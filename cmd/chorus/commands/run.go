// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chorus/client"
	"github.com/bureau-foundation/chorus/cmd/chorus/cli"
	"github.com/bureau-foundation/chorus/lib/config"
	"github.com/bureau-foundation/chorus/lib/version"
)

// shutdownTimeout bounds the REST drain after an interrupt.
const shutdownTimeout = 10 * time.Second

type runOptions struct {
	ConfigPath     string
	LogFormat      string
	LogLevel       string
	NoColor        bool
	Raw            bool
	RevealSpoilers bool
}

func runCommand() *cli.Command {
	var options runOptions
	return &cli.Command{
		Name:    "run",
		Summary: "Connect every shard and stream events",
		Description: `Connect the bot described by the config file and print every
gateway event until interrupted.

On interrupt the shards close, queued REST requests are drained or
abandoned per rest.shutdown, and the snapshot (if configured) is
written so the next run resumes its sessions.`,
		Usage: "chorus run [--config path] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVarP(&options.ConfigPath, "config", "c", "", "configuration file (default $CHORUS_CONFIG)")
			flagSet.StringVar(&options.LogFormat, "log-format", "", "log format: text, json or auto (default from config)")
			flagSet.StringVar(&options.LogLevel, "log-level", "", "log level: debug, info, warn or error (default from config)")
			flagSet.BoolVar(&options.NoColor, "no-color", false, "disable colored output")
			flagSet.BoolVar(&options.Raw, "raw", false, "print payloads of events without a typed handler")
			flagSet.BoolVar(&options.RevealSpoilers, "reveal-spoilers", false, "show spoiler text in messages")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Stream events with JSON logs", Command: "chorus run --config chorus.yaml --log-format json"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, options, os.Stdout, os.Stderr)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, options runOptions, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(options.ConfigPath)
	if err != nil {
		return err
	}
	if options.LogLevel != "" {
		cfg.Log.Level = options.LogLevel
	}
	if options.LogFormat != "" {
		cfg.Log.Format = options.LogFormat
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	logger, err := cli.NewLogger(stderr, cfg.Log.Format, level)
	if err != nil {
		return err
	}

	clientConfig, err := client.FromConfig(cfg)
	if err != nil {
		return err
	}
	clientConfig.Logger = logger
	bot, err := client.New(clientConfig)
	if err != nil {
		return err
	}

	printer := newEventPrinter(stdout, bot.Cache(), printerOptions{
		Profile:        cli.ColorProfile(stdout, options.NoColor),
		Width:          cli.TerminalWidth(stdout, 120),
		Raw:            options.Raw,
		RevealSpoilers: options.RevealSpoilers,
	})
	unsubscribe := bot.Bus().OnAny(printer.Print)
	defer unsubscribe()

	logger.Info("chorus starting",
		"version", version.Short(),
		"intents", clientConfig.Intents.String(),
		"encoding", cfg.Gateway.Encoding,
		"snapshot", cfg.Snapshot.Path,
	)
	runErr := bot.Run(ctx)
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := bot.Close(closeCtx); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("gateway stopped", "error", runErr)
		return &cli.ExitError{Code: 1}
	}
	return nil
}
