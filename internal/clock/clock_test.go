package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealSleepCompletes(t *testing.T) {
	start := time.Now()
	if err := (Real{}).Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("slept only %v", elapsed)
	}
}

func TestRealSleepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := (Real{}).Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestRealSleepZero(t *testing.T) {
	if err := (Real{}).Sleep(context.Background(), 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRealTicker(t *testing.T) {
	tk := (Real{}).NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), 8*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.Now().Equal(start.Add(10 * time.Second)) {
		t.Errorf("expected now=%v, got %v", start.Add(10*time.Second), f.Now())
	}
	sleeps := f.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 8*time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("unexpected sleeps: %v", sleeps)
	}
}

func TestFakeSleepCancelled(t *testing.T) {
	f := NewFake(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(f.Sleeps()) != 0 {
		t.Error("cancelled sleep should not be recorded")
	}
}

func TestFakeOnSleepHook(t *testing.T) {
	f := NewFake(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	f.OnSleep = func(d time.Duration) { cancel() }

	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected hook cancellation to surface, got %v", err)
	}
}

func TestFakeTicker(t *testing.T) {
	f := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := f.NewTicker(time.Second)

	f.Fire()
	select {
	case got := <-tk.C():
		if !got.Equal(f.Now()) {
			t.Errorf("tick time: got %v, want %v", got, f.Now())
		}
	default:
		t.Fatal("expected a tick")
	}

	tk.Stop()
	f.Fire()
	select {
	case <-tk.C():
		t.Error("stopped ticker should not fire")
	default:
	}
}
