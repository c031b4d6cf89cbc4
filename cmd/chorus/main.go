// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command chorus runs a bot against the chat gateway and streams its
// events to the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/chorus/cmd/chorus/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		// Commands that already reported their failure return an
		// ExitError; don't print a second line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
