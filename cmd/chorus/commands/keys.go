// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chorus/cmd/chorus/cli"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/sealed"
	"github.com/bureau-foundation/chorus/lib/secret"
)

func keygenCommand() *cli.Command {
	var outPath string
	var force bool
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age identity for sealed tokens",
		Description: `Generate an age x25519 identity. The identity is written to --out
with mode 0600; the public key is printed to stdout for use with
'chorus seal --recipient'.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVarP(&outPath, "out", "o", "", "identity file to create (required)")
			flagSet.BoolVar(&force, "force", false, "overwrite an existing identity file")
			return flagSet
		},
		Run: func(args []string) error {
			if outPath == "" {
				return errors.New("--out is required")
			}
			return keygen(outPath, force, time.Now(), os.Stdout)
		},
	}
}

func keygen(outPath string, force bool, now time.Time, stdout io.Writer) error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	header := fmt.Sprintf("# created: %s\n# public key: %s\n", now.UTC().Format(time.RFC3339), keypair.PublicKey)
	contents := make([]byte, 0, len(header)+keypair.PrivateKey.Len()+1)
	contents = append(contents, header...)
	contents = append(contents, keypair.PrivateKey.Bytes()...)
	contents = append(contents, '\n')
	defer secret.Zero(contents)

	if err := writePrivateFile(outPath, contents, force); err != nil {
		return err
	}
	fmt.Fprintln(stdout, keypair.PublicKey)
	return nil
}

func sealCommand() *cli.Command {
	var recipients []string
	var outPath, inPath string
	var force bool
	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt the bot token to age recipients",
		Description: `Encrypt a bot token so it can be stored next to the config and
opened at startup with token.source: sealed. The token is read from
--in ("-" for stdin) or prompted for on the terminal.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age1... public key (repeatable)")
			flagSet.StringVarP(&outPath, "out", "o", "", "sealed token file to create (required)")
			flagSet.StringVar(&inPath, "in", "", `token file, or "-" for stdin (default: prompt)`)
			flagSet.BoolVar(&force, "force", false, "overwrite an existing sealed file")
			return flagSet
		},
		Run: func(args []string) error {
			if outPath == "" {
				return errors.New("--out is required")
			}
			var source credential.Provider = credential.Prompt{}
			if inPath != "" {
				source = credential.File(inPath)
			}
			return seal(context.Background(), source, recipients, outPath, force)
		},
	}
}

func seal(ctx context.Context, source credential.Provider, recipients []string, outPath string, force bool) error {
	if len(recipients) == 0 {
		return errors.New("at least one --recipient is required")
	}
	for _, recipient := range recipients {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			return err
		}
	}
	token, err := source.Token(ctx)
	if err != nil {
		return err
	}
	defer token.Close()

	ciphertext, err := sealed.Seal(token.Bytes(), recipients)
	if err != nil {
		return err
	}
	return writePrivateFile(outPath, ciphertext, force)
}

// writePrivateFile creates path with mode 0600. An existing file is an
// error unless force is set.
func writePrivateFile(path string, contents []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return err
	}
	if _, err := file.Write(contents); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}
