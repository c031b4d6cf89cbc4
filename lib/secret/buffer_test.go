// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import "testing"

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("Bot-token.abc")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d, want 0", index, value)
		}
	}
	if buffer.String() != "Bot-token.abc" {
		t.Errorf("String() = %q", buffer.String())
	}
	if buffer.Len() != len("Bot-token.abc") {
		t.Errorf("Len() = %d", buffer.Len())
	}
}

func TestEqual(t *testing.T) {
	buffer, err := NewFromString("secret-token")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer buffer.Close()

	if !buffer.Equal([]byte("secret-token")) {
		t.Error("Equal returned false for identical secret")
	}
	if buffer.Equal([]byte("secret-tokem")) {
		t.Error("Equal returned true for different secret")
	}
}

func TestCloseIsIdempotentAndPanicsOnRead(t *testing.T) {
	buffer, err := NewFromString("x")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("read after Close did not panic")
		}
	}()
	_ = buffer.String()
}

func TestRejectsEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Error("expected error for empty source")
	}
	if _, err := New(0); err == nil {
		t.Error("expected error for zero size")
	}
}
