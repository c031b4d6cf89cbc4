// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockTimerFiresOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(3 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("timer fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-timer.C:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Errorf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("timer did not fire after reaching its deadline")
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after one-shot fired, want 0", clock.PendingCount())
	}
}

func TestFakeClockAfterNonPositiveFiresImmediately(t *testing.T) {
	clock := Fake(epoch)
	for _, duration := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(duration):
		default:
			t.Errorf("After(%v) did not fire immediately", duration)
		}
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", clock.PendingCount())
	}
}

func TestFakeClockTimerStopRemovesPending(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Second)
	if clock.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", clock.PendingCount())
	}
	if !timer.Stop() {
		t.Error("Stop on active timer returned false")
	}
	if timer.Stop() {
		t.Error("second Stop returned true")
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after Stop, want 0", clock.PendingCount())
	}
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeClockTimerReset(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Second)
	timer.Reset(5 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("reset timer fired at its old deadline")
	default:
	}
	clock.Advance(3 * time.Second)
	select {
	case <-timer.C:
	default:
		t.Fatal("reset timer did not fire at its new deadline")
	}
}

func TestFakeClockAfterFunc(t *testing.T) {
	clock := Fake(epoch)
	called := 0
	clock.AfterFunc(time.Second, func() { called++ })
	clock.Advance(time.Second)
	clock.Advance(time.Second)
	if called != 1 {
		t.Fatalf("callback ran %d times, want 1", called)
	}

	ran := false
	clock.AfterFunc(0, func() { ran = true })
	if !ran {
		t.Error("AfterFunc(0) did not run synchronously")
	}

	stopped := clock.AfterFunc(time.Second, func() { t.Error("stopped callback ran") })
	stopped.Stop()
	clock.Advance(time.Second)
}

func TestFakeClockTicker(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for round := 1; round <= 3; round++ {
		clock.Advance(10 * time.Second)
		select {
		case tick := <-ticker.C:
			if want := epoch.Add(time.Duration(round) * 10 * time.Second); !tick.Equal(want) {
				t.Errorf("tick %d = %v, want %v", round, tick, want)
			}
		default:
			t.Fatalf("tick %d not delivered", round)
		}
	}
	if clock.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1 (ticker stays pending)", clock.PendingCount())
	}
}

func TestFakeClockTickerDropsTicks(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(5 * time.Second)
	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("ticker buffered more than one tick")
	default:
	}
}

func TestFakeClockTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clock.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
}

func TestFakeClockCallbackSeesDeadline(t *testing.T) {
	clock := Fake(epoch)
	var seen time.Time
	clock.AfterFunc(2*time.Second, func() { seen = clock.Now() })
	clock.Advance(10 * time.Second)
	if want := epoch.Add(2 * time.Second); !seen.Equal(want) {
		t.Errorf("Now() inside callback = %v, want %v", seen, want)
	}
	if want := epoch.Add(10 * time.Second); !clock.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", clock.Now(), want)
	}
}

func TestFakeClockSleepAndWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		clock.Sleep(time.Minute)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Minute)
	<-done
}

func TestFakeClockConcurrentTimers(t *testing.T) {
	clock := Fake(epoch)
	const goroutines = 20
	var group sync.WaitGroup
	group.Add(goroutines)
	for index := 0; index < goroutines; index++ {
		go func() {
			defer group.Done()
			<-clock.After(time.Second)
		}()
	}
	clock.WaitForTimers(goroutines)
	clock.Advance(time.Second)
	group.Wait()
}

func TestClockImplementations(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}
