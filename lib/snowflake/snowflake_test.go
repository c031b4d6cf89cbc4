// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snowflake

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    ID
		wantErr bool
	}{
		{raw: "175928847299117063", want: 175928847299117063},
		{raw: "1", want: 1},
		{raw: "", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "18446744073709551616", wantErr: true},
	}
	for _, test := range tests {
		got, err := Parse(test.raw)
		if test.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) = %v, want error", test.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", test.raw, err)
			continue
		}
		if got != test.want {
			t.Errorf("Parse(%q) = %d, want %d", test.raw, got, test.want)
		}
	}
}

func TestTime(t *testing.T) {
	id := MustParse("175928847299117063")
	want := time.Date(2016, 4, 30, 11, 18, 25, 796000000, time.UTC)
	if got := id.Time(); !got.Equal(want) {
		t.Errorf("Time() = %v, want %v", got, want)
	}
}

func TestShard(t *testing.T) {
	id := MustParse("175928847299117063")
	// (id >> 22) = 41944705796; 41944705796 % 4 = 0, % 3 = 2.
	if got := id.Shard(4); got != 0 {
		t.Errorf("Shard(4) = %d, want 0", got)
	}
	if got := id.Shard(3); got != 2 {
		t.Errorf("Shard(3) = %d, want 2", got)
	}
	if got := id.Shard(1); got != 0 {
		t.Errorf("Shard(1) = %d, want 0", got)
	}
	if got := id.Shard(0); got != 0 {
		t.Errorf("Shard(0) = %d, want 0", got)
	}
}

func TestJSON(t *testing.T) {
	type payload struct {
		ID     ID  `json:"id"`
		Parent ID  `json:"parent_id"`
		Owner  *ID `json:"owner_id,omitempty"`
	}

	var decoded payload
	input := `{"id":"81384788765712384","parent_id":41771983423143937,"owner_id":null}`
	if err := json.Unmarshal([]byte(input), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != 81384788765712384 {
		t.Errorf("ID = %d", decoded.ID)
	}
	if decoded.Parent != 41771983423143937 {
		t.Errorf("Parent = %d", decoded.Parent)
	}

	encoded, err := json.Marshal(payload{ID: 5, Parent: 0})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(encoded) != `{"id":"5","parent_id":"0"}` {
		t.Errorf("Marshal = %s", encoded)
	}

	if err := json.Unmarshal([]byte(`{"id":"x1"}`), &decoded); err == nil {
		t.Error("expected error for non-numeric ID")
	}
}

func TestMapKeys(t *testing.T) {
	encoded, err := json.Marshal(map[ID]string{7: "seven"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(encoded) != `{"7":"seven"}` {
		t.Errorf("Marshal = %s", encoded)
	}
}
