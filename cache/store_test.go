// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

func ptr[T any](value T) *T { return &value }

func newRoleStore(enabled bool) *Store[snowflake.ID, Role] {
	return NewStore[snowflake.ID, Role](KindRole, enabled, cmp.Compare[snowflake.ID], nil)
}

func TestPartialObservationNeverErasesFullFields(t *testing.T) {
	store := newRoleStore(true)

	store.Upsert(RolePayload{ID: 1, GuildID: 10, Name: ptr("admin")})
	store.Upsert(RolePayload{ID: 1})

	ref, ok := store.Get(1)
	if !ok {
		t.Fatal("role 1 not cached")
	}
	if ref.Value.Name != "admin" {
		t.Errorf("name = %q after partial observation, want admin", ref.Value.Name)
	}
	if ref.Partial {
		t.Error("full role downgraded to partial")
	}

	store.Upsert(RolePayload{ID: 1, Name: ptr("root")})
	ref, _ = store.Get(1)
	if ref.Value.Name != "root" {
		t.Errorf("name = %q after full update, want root", ref.Value.Name)
	}
	if ref.Scope != 10 {
		t.Errorf("scope = %d, want 10 retained", ref.Scope)
	}
}

func TestPartialPromotedInPlace(t *testing.T) {
	store := newRoleStore(true)
	handle := store.Handle(5)

	if !handle.Partial() {
		t.Fatal("absent entity should read as partial")
	}

	ref := store.Upsert(RolePayload{ID: 5, GuildID: 10})
	if !ref.Partial {
		t.Fatal("ID-only observation should create a partial entity")
	}
	if !handle.Partial() {
		t.Fatal("handle should still see a partial entity")
	}

	store.Upsert(RolePayload{ID: 5, Name: ptr("mods"), Color: ptr(0xff0000)})
	got, ok := handle.Get()
	if !ok || got.Partial {
		t.Fatalf("handle did not observe promotion: %+v", got)
	}
	if got.Value.Name != "mods" || got.Value.Color != 0xff0000 || got.Value.GuildID != 10 {
		t.Errorf("promoted value = %+v", got.Value)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, promotion must not create a second slot", store.Len())
	}
}

// TestMergeMatchesLastWriteWinsModel checks random upsert sequences
// against a model: every field equals the last observation that
// carried it, and no field is erased by an observation that omits it.
func TestMergeMatchesLastWriteWinsModel(t *testing.T) {
	random := rand.New(rand.NewPCG(1, 2))
	names := []string{"admin", "mods", "root", "everyone"}

	for iteration := range 200 {
		store := newRoleStore(true)
		var want Role
		want.ID = 7
		complete := false

		for range 1 + random.IntN(12) {
			payload := RolePayload{ID: 7}
			if random.IntN(2) == 0 {
				payload.Name = ptr(names[random.IntN(len(names))])
				want.Name = *payload.Name
				complete = true
			}
			if random.IntN(2) == 0 {
				payload.Color = ptr(random.IntN(1 << 24))
				want.Color = *payload.Color
			}
			if random.IntN(2) == 0 {
				payload.Hoist = ptr(random.IntN(2) == 0)
				want.Hoist = *payload.Hoist
			}
			store.Upsert(payload)
		}

		got, ok := store.Get(7)
		if !ok {
			t.Fatalf("iteration %d: role missing", iteration)
		}
		if got.Value != want {
			t.Fatalf("iteration %d: value = %+v, want %+v", iteration, got.Value, want)
		}
		if got.Partial == complete {
			t.Fatalf("iteration %d: partial = %v, complete = %v", iteration, got.Partial, complete)
		}
	}
}

func TestDisabledStoreIsPassThrough(t *testing.T) {
	var changes []Change
	store := NewStore[snowflake.ID, Role](KindRole, false, cmp.Compare[snowflake.ID], func(change Change) {
		changes = append(changes, change)
	})

	ref := store.Upsert(RolePayload{ID: 3, GuildID: 10, Name: ptr("admin")})
	if !ref.Transient {
		t.Error("disabled store should return a transient view")
	}
	if ref.Value.Name != "admin" || ref.Value.ID != 3 || ref.Scope != 10 {
		t.Errorf("transient view = %+v", ref)
	}
	if _, ok := store.Get(3); ok {
		t.Error("disabled store reported a cached entity")
	}
	if store.Has(3) || store.Len() != 0 {
		t.Error("disabled store retained an entity")
	}
	if _, ok := store.Remove(3); ok {
		t.Error("disabled store reported a removal")
	}
	if resolved := store.Resolve(3, 10); !resolved.Partial {
		t.Error("disabled store resolved a full reference")
	}
	if len(changes) != 0 {
		t.Errorf("disabled store emitted %d changes", len(changes))
	}
}

func TestResolve(t *testing.T) {
	store := newRoleStore(true)
	store.Upsert(RolePayload{ID: 1, GuildID: 10, Name: ptr("admin")})

	full := store.Resolve(1, 10)
	if full.Partial || full.Value.Name != "admin" {
		t.Errorf("Resolve(cached) = %+v", full)
	}

	partial := store.Resolve(2, 10)
	if !partial.Partial || partial.Key != 2 || partial.Scope != 10 {
		t.Errorf("Resolve(uncached) = %+v", partial)
	}
	if store.Has(2) {
		t.Error("Resolve must not insert")
	}
}

func TestRemoveScopeAscendingOrder(t *testing.T) {
	var removedOrder []snowflake.ID
	store := NewStore[snowflake.ID, Role](KindRole, true, cmp.Compare[snowflake.ID], func(change Change) {
		if change.Op == OpRemoved {
			removedOrder = append(removedOrder, change.Key.(snowflake.ID))
		}
	})
	for _, id := range []snowflake.ID{40, 10, 30, 20} {
		store.Upsert(RolePayload{ID: id, GuildID: 1, Name: ptr("r")})
	}
	store.Upsert(RolePayload{ID: 99, GuildID: 2, Name: ptr("other guild")})

	removed := store.RemoveScope(1)
	var keys []snowflake.ID
	for _, ref := range removed {
		keys = append(keys, ref.Key)
	}
	want := []snowflake.ID{10, 20, 30, 40}
	if !slices.Equal(keys, want) {
		t.Errorf("removed = %v, want %v", keys, want)
	}
	if !slices.Equal(removedOrder, want) {
		t.Errorf("notification order = %v, want %v", removedOrder, want)
	}
	if !store.Has(99) || store.Len() != 1 {
		t.Error("RemoveScope touched another scope")
	}
}

func TestFilterInsertionOrder(t *testing.T) {
	store := newRoleStore(true)
	for _, id := range []snowflake.ID{30, 10, 20} {
		store.Upsert(RolePayload{ID: id, GuildID: 1, Name: ptr("r")})
	}
	// Updating an existing entity keeps its original position.
	store.Upsert(RolePayload{ID: 30, Name: ptr("renamed")})

	var keys []snowflake.ID
	for _, ref := range store.Filter(nil) {
		keys = append(keys, ref.Key)
	}
	if !slices.Equal(keys, []snowflake.ID{30, 10, 20}) {
		t.Errorf("Filter order = %v", keys)
	}
	if !slices.Equal(store.Keys(), []snowflake.ID{10, 20, 30}) {
		t.Errorf("Keys = %v", store.Keys())
	}
}

func TestExchangeReportsPrevious(t *testing.T) {
	store := newRoleStore(true)
	_, _, existed := store.Exchange(RolePayload{ID: 1, Name: ptr("a")})
	if existed {
		t.Error("first Exchange reported an existing entity")
	}
	current, previous, existed := store.Exchange(RolePayload{ID: 1, Name: ptr("b")})
	if !existed || previous.Value.Name != "a" || current.Value.Name != "b" {
		t.Errorf("Exchange = %+v, %+v, %v", current, previous, existed)
	}
}

func TestChangeNotifications(t *testing.T) {
	var ops []Op
	store := NewStore[snowflake.ID, Role](KindRole, true, cmp.Compare[snowflake.ID], func(change Change) {
		if change.Kind != KindRole {
			t.Errorf("change kind = %s", change.Kind)
		}
		ops = append(ops, change.Op)
	})
	store.Upsert(RolePayload{ID: 1, Name: ptr("a")})
	store.Upsert(RolePayload{ID: 1, Name: ptr("b")})
	store.Remove(1)
	store.Remove(1)

	want := []Op{OpCreated, OpUpdated, OpRemoved}
	if !slices.Equal(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestEntriesRestore(t *testing.T) {
	store := newRoleStore(true)
	store.Upsert(RolePayload{ID: 2, GuildID: 1, Name: ptr("b")})
	store.Upsert(RolePayload{ID: 1, GuildID: 1})

	restored := newRoleStore(true)
	restored.Restore(store.Entries())

	if restored.Len() != 2 {
		t.Fatalf("Len = %d", restored.Len())
	}
	one, _ := restored.Get(1)
	if !one.Partial || one.Scope != 1 {
		t.Errorf("restored partial = %+v", one)
	}
	var keys []snowflake.ID
	for _, ref := range restored.Filter(nil) {
		keys = append(keys, ref.Key)
	}
	if !slices.Equal(keys, []snowflake.ID{2, 1}) {
		t.Errorf("restored order = %v", keys)
	}
}

// TestConcurrentReadersSeeWholeEntities upserts two fields that always
// change together and checks that no reader observes them out of step.
func TestConcurrentReadersSeeWholeEntities(t *testing.T) {
	store := newRoleStore(true)
	store.Upsert(RolePayload{ID: 1, Name: ptr("0"), Position: ptr(0)})

	var waitGroup sync.WaitGroup
	done := make(chan struct{})
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		for index := 1; index <= 2000; index++ {
			name := string(rune('0' + index%10))
			store.Upsert(RolePayload{ID: 1, Name: &name, Position: ptr(index % 10)})
		}
		close(done)
	}()

	for reader := 0; reader < 4; reader++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				ref, _ := store.Get(1)
				if ref.Value.Name != string(rune('0'+ref.Value.Position)) {
					t.Errorf("torn read: %+v", ref.Value)
					return
				}
			}
		}()
	}
	waitGroup.Wait()
}
