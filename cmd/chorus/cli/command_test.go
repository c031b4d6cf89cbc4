// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
)

func TestExecuteDispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "chorus",
		Subcommands: []*Command{
			{Name: "version", Run: func([]string) error { called = "version"; return nil }},
			{Name: "run", Run: func([]string) error { called = "run"; return nil }},
		},
	}
	if err := root.Execute([]string{"run"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "run" {
		t.Errorf("dispatched to %q, want run", called)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var configPath string
	var received []string
	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file")
			return flagSet
		},
		Run: func(args []string) error {
			received = args
			return nil
		},
	}
	if err := command.Execute([]string{"--config", "/etc/chorus.yaml", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if configPath != "/etc/chorus.yaml" {
		t.Errorf("config = %q", configPath)
	}
	if len(received) != 1 || received[0] != "extra" {
		t.Errorf("args = %v", received)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.String("config", "", "config file")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}
	err := command.Execute([]string{"--confg", "x"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --config") {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	root := &Command{
		Name:        "chorus",
		Output:      &bytes.Buffer{},
		Subcommands: []*Command{{Name: "version", Run: func([]string) error { return nil }}},
	}
	err := root.Execute([]string{"verison"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "version"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteRequiresSubcommand(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:        "chorus",
		Output:      &help,
		Subcommands: []*Command{{Name: "version", Summary: "Print version information"}},
	}
	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute without a subcommand succeeded")
	}
	if !strings.Contains(help.String(), "Print version information") {
		t.Errorf("help = %q", help.String())
	}
}

func TestHelpIsWrittenToOutput(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:   "chorus",
		Output: &help,
		Subcommands: []*Command{{
			Name:    "run",
			Summary: "Connect and stream events",
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
				flagSet.String("config", "", "configuration file")
				return flagSet
			},
			Examples: []Example{{Description: "Run with a config", Command: "chorus run --config chorus.yaml"}},
			Run:      func([]string) error { return nil },
		}},
	}
	if err := root.Execute([]string{"run", "--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	output := help.String()
	for _, want := range []string{"chorus run [flags]", "--config", "# Run with a config"} {
		if !strings.Contains(output, want) {
			t.Errorf("help missing %q:\n%s", want, output)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"run", "", 3},
		{"run", "run", 0},
		{"verison", "version", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := NewLogger(&buffer, LogFormatJSON, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown", "shard_id", 3)
	if strings.Contains(buffer.String(), "hidden") || !strings.Contains(buffer.String(), `"shard_id":3`) {
		t.Errorf("output = %q", buffer.String())
	}

	// A buffer is not a terminal, so auto selects JSON.
	buffer.Reset()
	logger, _ = NewLogger(&buffer, LogFormatAuto, slog.LevelInfo)
	logger.Info("auto")
	if !strings.HasPrefix(buffer.String(), "{") {
		t.Errorf("auto format on a buffer = %q", buffer.String())
	}

	if _, err := NewLogger(&buffer, "xml", slog.LevelInfo); err == nil {
		t.Error("NewLogger accepted an unknown format")
	}
}

func TestColorProfileWithoutTerminal(t *testing.T) {
	if profile := ColorProfile(&bytes.Buffer{}, false); profile != termenv.Ascii {
		t.Errorf("profile = %v, want Ascii", profile)
	}
	if width := TerminalWidth(&bytes.Buffer{}, 100); width != 100 {
		t.Errorf("width = %d, want fallback", width)
	}
}
