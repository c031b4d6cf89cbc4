// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/chorus/lib/config"
	"github.com/bureau-foundation/chorus/lib/sealed"
)

func tokenString(t *testing.T, provider Provider) string {
	t.Helper()
	buffer, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	defer buffer.Close()
	return buffer.String()
}

func TestStatic(t *testing.T) {
	if got := tokenString(t, Static(" abc.def \n")); got != "abc.def" {
		t.Errorf("token = %q", got)
	}
	if _, err := Static("").Token(context.Background()); err == nil {
		t.Error("expected error for empty static token")
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("CHORUS_TEST_TOKEN", "env-token\n")
	if got := tokenString(t, Env("CHORUS_TEST_TOKEN")); got != "env-token" {
		t.Errorf("token = %q", got)
	}

	t.Setenv("CHORUS_TEST_TOKEN", "")
	if _, err := Env("CHORUS_TEST_TOKEN").Token(context.Background()); err == nil {
		t.Error("expected error for unset variable")
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("\n  file-token  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := tokenString(t, File(path)); got != "file-token" {
		t.Errorf("token = %q", got)
	}

	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("   \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := File(empty).Token(context.Background()); err == nil {
		t.Error("expected error for whitespace-only file")
	}
	if _, err := File(filepath.Join(t.TempDir(), "missing")).Token(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadFromStdin(t *testing.T) {
	buffer, err := readFromPath("-", strings.NewReader("stdin-token\nsecond line\n"))
	if err != nil {
		t.Fatalf("readFromPath: %v", err)
	}
	defer buffer.Close()
	if buffer.String() != "stdin-token" {
		t.Errorf("token = %q", buffer.String())
	}

	if _, err := readFromPath("-", strings.NewReader("")); err == nil {
		t.Error("expected error for empty stdin")
	}
}

func TestSealed(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	directory := t.TempDir()
	identityPath := filepath.Join(directory, "identity.txt")
	if err := os.WriteFile(identityPath, []byte(keypair.PrivateKey.String()+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	ciphertext, err := sealed.Seal([]byte("sealed-token"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tokenPath := filepath.Join(directory, "token.age")
	if err := os.WriteFile(tokenPath, ciphertext, 0600); err != nil {
		t.Fatal(err)
	}

	if got := tokenString(t, Sealed{Path: tokenPath, IdentityPath: identityPath}); got != "sealed-token" {
		t.Errorf("token = %q", got)
	}
}

func TestPrompt(t *testing.T) {
	savedIsTerminal, savedReadPassword := isTerminal, readPassword
	t.Cleanup(func() { isTerminal, readPassword = savedIsTerminal, savedReadPassword })

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte("typed-token\n"), nil }

	var output bytes.Buffer
	got := tokenString(t, Prompt{Output: &output})
	if got != "typed-token" {
		t.Errorf("token = %q", got)
	}
	if !strings.HasPrefix(output.String(), "Bot token: ") {
		t.Errorf("prompt output = %q", output.String())
	}

	isTerminal = func(int) bool { return false }
	if _, err := (Prompt{Output: &output}).Token(context.Background()); err == nil {
		t.Error("expected error without a terminal")
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		cfg  config.TokenConfig
		want Provider
	}{
		{config.TokenConfig{Source: config.TokenSourceEnv, Env: "X"}, Env("X")},
		{config.TokenConfig{Source: config.TokenSourceFile, Path: "/t"}, File("/t")},
		{config.TokenConfig{Source: config.TokenSourceSealed, Path: "/t.age", Identity: "/id"}, Sealed{Path: "/t.age", IdentityPath: "/id"}},
		{config.TokenConfig{Source: config.TokenSourcePrompt}, Prompt{}},
	}
	for _, test := range tests {
		got, err := FromConfig(test.cfg)
		if err != nil {
			t.Fatalf("FromConfig(%+v): %v", test.cfg, err)
		}
		if got != test.want {
			t.Errorf("FromConfig(%+v) = %#v, want %#v", test.cfg, got, test.want)
		}
	}
	if _, err := FromConfig(config.TokenConfig{Source: "vault"}); err == nil {
		t.Error("expected error for unknown source")
	}
}
