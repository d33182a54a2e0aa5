package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(threshold, time.Minute).WithClock(clk.Now), clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	if !b.Allow("ChatEvent") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("ChatEvent")
	b.RecordFailure("ChatEvent")
	if !b.Allow("ChatEvent") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("ChatEvent")
	if b.Allow("ChatEvent") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("ChatEvent") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("ChatEvent"))
	}
	if !b.Allow("RiskSnapshot") {
		t.Fatal("other keys must be unaffected")
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure("ChatEvent")
	b.RecordFailure("ChatEvent")
	if b.Allow("ChatEvent") {
		t.Fatal("should be open")
	}

	clk.Advance(time.Minute)

	if !b.Allow("ChatEvent") {
		t.Fatal("should allow a trial request in half-open")
	}
	if b.State("ChatEvent") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("ChatEvent"))
	}
	if b.Allow("ChatEvent") {
		t.Fatal("should reject second request in half-open")
	}

	b.RecordSuccess("ChatEvent")
	if b.State("ChatEvent") != StateClosed {
		t.Fatalf("expected StateClosed after successful trial request, got %v", b.State("ChatEvent"))
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.RecordFailure("k")
	clk.Advance(2 * time.Minute)
	if !b.Allow("k") {
		t.Fatal("expected a trial request")
	}
	b.RecordFailure("k")
	if b.State("k") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("k"))
	}
	if b.Allow("k") {
		t.Fatal("freshly reopened circuit should reject")
	}
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(1)
	boom := errors.New("boom")

	if err := b.Execute("k", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	called := false
	err := b.Execute("k", func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("expected ErrOpen without call, got %v (called=%v)", err, called)
	}
}

func TestBreaker_OnTransition(t *testing.T) {
	b, _ := newTestBreaker(1)
	done := make(chan [2]State, 1)
	b.OnTransition(func(key string, from, to State) { done <- [2]State{from, to} })

	b.RecordFailure("k")
	select {
	case got := <-done:
		if got[0] != StateClosed || got[1] != StateOpen {
			t.Fatalf("unexpected transition %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow("k")
			b.RecordFailure("k")
			b.RecordSuccess("k")
		}()
	}
	wg.Wait()
}
