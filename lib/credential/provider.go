// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bureau-foundation/chorus/lib/config"
	"github.com/bureau-foundation/chorus/lib/sealed"
	"github.com/bureau-foundation/chorus/lib/secret"
)

// Provider yields the bot token. The returned buffer belongs to the
// caller.
type Provider interface {
	Token(ctx context.Context) (*secret.Buffer, error)
}

// Static returns a fixed token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (*secret.Buffer, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return nil, fmt.Errorf("credential: static token is empty")
	}
	return secret.NewFromString(token)
}

// Env reads the token from the named environment variable.
type Env string

// Token implements Provider.
func (e Env) Token(context.Context) (*secret.Buffer, error) {
	value := strings.TrimSpace(os.Getenv(string(e)))
	if value == "" {
		return nil, fmt.Errorf("credential: environment variable %s is not set", string(e))
	}
	return secret.NewFromString(value)
}

// File reads the token from a file, or the first line of stdin when
// the path is "-". Surrounding whitespace is trimmed.
type File string

// Token implements Provider.
func (f File) Token(context.Context) (*secret.Buffer, error) {
	buffer, err := readFromPath(string(f), os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return buffer, nil
}

// Sealed reads an age-encrypted token file and opens it with the
// identity in IdentityPath.
type Sealed struct {
	Path         string
	IdentityPath string
}

// Token implements Provider.
func (s Sealed) Token(context.Context) (*secret.Buffer, error) {
	ciphertext, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("credential: reading sealed token: %w", err)
	}
	identity, err := readFromPath(s.IdentityPath, nil)
	if err != nil {
		return nil, fmt.Errorf("credential: reading identity: %w", err)
	}
	defer identity.Close()

	token, err := sealed.Open(ciphertext, identity)
	if err != nil {
		return nil, fmt.Errorf("credential: opening %s: %w", s.Path, err)
	}
	return token, nil
}

// Prompt asks for the token on the controlling terminal with echo
// disabled.
type Prompt struct {
	// Input is the terminal to read from. Nil means os.Stdin.
	Input *os.File

	// Output receives the prompt text. Nil means os.Stderr.
	Output io.Writer

	// Label is printed before reading. Default: "Bot token: ".
	Label string
}

// Replaced in tests.
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

// Token implements Provider.
func (p Prompt) Token(context.Context) (*secret.Buffer, error) {
	input := p.Input
	if input == nil {
		input = os.Stdin
	}
	output := p.Output
	if output == nil {
		output = os.Stderr
	}
	label := p.Label
	if label == "" {
		label = "Bot token: "
	}

	fileDescriptor := int(input.Fd())
	if !isTerminal(fileDescriptor) {
		return nil, fmt.Errorf("credential: no terminal available for the token prompt (use token.source file or env)")
	}

	fmt.Fprint(output, label)
	data, err := readPassword(fileDescriptor)
	fmt.Fprintln(output)
	if err != nil {
		return nil, fmt.Errorf("credential: reading token: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		secret.Zero(data)
		return nil, fmt.Errorf("credential: token is empty")
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// FromConfig returns the provider selected by the token section.
func FromConfig(cfg config.TokenConfig) (Provider, error) {
	switch cfg.Source {
	case config.TokenSourceEnv:
		return Env(cfg.Env), nil
	case config.TokenSourceFile:
		return File(cfg.Path), nil
	case config.TokenSourceSealed:
		return Sealed{Path: cfg.Path, IdentityPath: cfg.Identity}, nil
	case config.TokenSourcePrompt:
		return Prompt{}, nil
	default:
		return nil, fmt.Errorf("credential: unknown token source %q", cfg.Source)
	}
}

// readFromPath reads a secret from path, or the first line of stdin
// when path is "-". The heap copy is zeroed once the buffer holds it.
func readFromPath(path string, stdin io.Reader) (*secret.Buffer, error) {
	var data []byte
	if path == "-" && stdin != nil {
		scanner := bufio.NewScanner(stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		secret.Zero(data)
		return nil, fmt.Errorf("%s is empty", path)
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
