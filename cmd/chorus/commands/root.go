// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/chorus/cmd/chorus/cli"
	"github.com/bureau-foundation/chorus/lib/version"
)

// Root returns the chorus command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "chorus",
		Description: `chorus: a sharded chat gateway client.

Connects a bot to the gateway, keeps an entity cache current, and
streams every event to the terminal.`,
		Subcommands: []*cli.Command{
			runCommand(),
			keygenCommand(),
			sealCommand(),
			versionCommand(os.Stdout),
		},
		Examples: []cli.Example{
			{
				Description: "Stream events using a config file",
				Command:     "chorus run --config chorus.yaml",
			},
			{
				Description: "Create an identity and seal the bot token to it",
				Command:     "chorus keygen --out identity.txt && chorus seal --recipient age1... --out token.age",
			},
		},
	}
}

func versionCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func([]string) error {
			fmt.Fprintf(out, "chorus %s\n", version.Full())
			return nil
		},
	}
}
