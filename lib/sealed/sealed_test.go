// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"strings"
	"testing"

	"filippo.io/age/armor"

	"github.com/bureau-foundation/chorus/lib/secret"
)

func generate(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func TestSealOpenRoundTrip(t *testing.T) {
	keypair := generate(t)

	ciphertext, err := Seal([]byte("MTk4NjIyNDgzNDcx.token\n"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !bytes.HasPrefix(ciphertext, []byte(armor.Header)) {
		t.Fatalf("ciphertext is not armored: %q", ciphertext[:20])
	}

	plaintext, err := Open(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != "MTk4NjIyNDgzNDcx.token" {
		t.Errorf("plaintext = %q, want trimmed token", plaintext.String())
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	sealer := generate(t)
	other := generate(t)

	ciphertext, err := Seal([]byte("token"), []string{sealer.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, other.PrivateKey); err == nil {
		t.Fatal("Open with the wrong identity succeeded")
	}
}

func TestMultipleRecipients(t *testing.T) {
	first := generate(t)
	second := generate(t)

	ciphertext, err := Seal([]byte("token"), []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	for _, keypair := range []*Keypair{first, second} {
		plaintext, err := Open(ciphertext, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		plaintext.Close()
	}
}

func TestIdentityFileWithComments(t *testing.T) {
	keypair := generate(t)
	file := "# created: 2026-01-01T00:00:00Z\n# public key: " + keypair.PublicKey + "\n" + keypair.PrivateKey.String() + "\n"
	identity, err := secret.NewFromString(file)
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer identity.Close()

	if err := ParsePrivateKey(identity); err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	ciphertext, err := Seal([]byte("token"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plaintext, err := Open(ciphertext, identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	plaintext.Close()
}

func TestSealValidation(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); err == nil {
		t.Error("expected error with no recipients")
	}
	if _, err := Seal([]byte("x"), []string{"age1notakey"}); err == nil {
		t.Error("expected error for malformed recipient")
	}
	if err := ParsePublicKey("ssh-ed25519 AAAA"); err == nil {
		t.Error("expected error for non-age public key")
	}
	if err := ParsePublicKey(generate(t).PublicKey); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if !strings.HasPrefix(generate(t).PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key has unexpected format")
	}
}

func TestOpenRejectsEmptyPlaintext(t *testing.T) {
	keypair := generate(t)
	ciphertext, err := Seal([]byte("  \n"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, keypair.PrivateKey); err == nil {
		t.Fatal("expected error for whitespace-only plaintext")
	}
}
