package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRunner records turns and blocks each one until released.
type fakeRunner struct {
	mu       sync.Mutex
	turns    []string
	active   atomic.Int32
	maxSeen  atomic.Int32
	block    chan struct{}
	turnDone chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		block:    make(chan struct{}),
		turnDone: make(chan string, 64),
	}
}

func (f *fakeRunner) RunTurn(ctx context.Context, sessionID, message string) error {
	n := f.active.Add(1)
	for {
		max := f.maxSeen.Load()
		if n <= max || f.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	defer f.active.Add(-1)

	f.mu.Lock()
	f.turns = append(f.turns, message)
	f.mu.Unlock()

	select {
	case <-f.block:
	case <-ctx.Done():
	}
	f.turnDone <- message
	return ctx.Err()
}

func (f *fakeRunner) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.turns...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSubmitStartsSingleLoop(t *testing.T) {
	runner := newFakeRunner()
	r := New(runner)

	if !r.Submit("sess-1", "first") {
		t.Fatal("Submit returned false")
	}
	waitFor(t, func() bool { return runner.active.Load() == 1 })

	// Messages during a running turn queue onto the same loop.
	r.Submit("sess-1", "second")
	r.Submit("sess-1", "third")

	close(runner.block)
	for i := 0; i < 3; i++ {
		select {
		case <-runner.turnDone:
		case <-time.After(2 * time.Second):
			t.Fatalf("turn %d never finished", i)
		}
	}

	got := runner.messages()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn order = %v, want %v", got, want)
			break
		}
	}
	if max := runner.maxSeen.Load(); max != 1 {
		t.Errorf("concurrent turns = %d, want 1", max)
	}

	waitFor(t, func() bool { return !r.Active("sess-1") })
}

func TestConcurrentSubmitsNeverOverlapTurns(t *testing.T) {
	runner := newFakeRunner()
	close(runner.block)
	r := New(runner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Submit("sess-1", fmt.Sprintf("msg-%d", i))
		}(i)
	}
	wg.Wait()

	waitFor(t, func() bool { return !r.Active("sess-1") })
	if max := runner.maxSeen.Load(); max != 1 {
		t.Errorf("concurrent turns = %d, want 1", max)
	}
	if got := len(runner.messages()); got != 8 {
		t.Errorf("turns run = %d, want 8", got)
	}
}

func TestIndependentSessionsRunConcurrently(t *testing.T) {
	runner := newFakeRunner()
	r := New(runner)

	r.Submit("sess-1", "a")
	r.Submit("sess-2", "b")
	waitFor(t, func() bool { return runner.active.Load() == 2 })

	close(runner.block)
	waitFor(t, func() bool { return !r.Active("sess-1") && !r.Active("sess-2") })
}

func TestCancelStopsLoop(t *testing.T) {
	runner := newFakeRunner()
	r := New(runner)

	r.Submit("sess-1", "long task")
	waitFor(t, func() bool { return runner.active.Load() == 1 })

	r.Cancel("sess-1")
	waitFor(t, func() bool { return !r.Active("sess-1") })
}

func TestCancelledLoopDropsQueuedInputs(t *testing.T) {
	runner := newFakeRunner()
	r := New(runner)

	r.Submit("sess-1", "first")
	waitFor(t, func() bool { return runner.active.Load() == 1 })
	r.Submit("sess-1", "queued")

	r.Cancel("sess-1")
	waitFor(t, func() bool { return !r.Active("sess-1") })

	// Only the in-flight turn ran; the queued one was discarded with the loop.
	if got := runner.messages(); len(got) != 1 {
		t.Errorf("turns = %v, want only the first", got)
	}
}

func TestStopWaitsForExit(t *testing.T) {
	runner := newFakeRunner()
	r := New(runner)

	r.Submit("sess-1", "work")
	waitFor(t, func() bool { return runner.active.Load() == 1 })

	r.Stop("sess-1")
	if r.Active("sess-1") {
		t.Error("loop still registered after Stop")
	}
	if runner.active.Load() != 0 {
		t.Error("turn still running after Stop")
	}
}

func TestSubmitAfterLoopExitStartsNewLoop(t *testing.T) {
	runner := newFakeRunner()
	close(runner.block)
	r := New(runner)

	r.Submit("sess-1", "one")
	waitFor(t, func() bool { return !r.Active("sess-1") })

	r.Submit("sess-1", "two")
	waitFor(t, func() bool { return len(runner.messages()) == 2 })
}

func TestShutdownStopsAllLoops(t *testing.T) {
	runner := newFakeRunner()
	r := New(runner)

	r.Submit("sess-1", "a")
	r.Submit("sess-2", "b")
	waitFor(t, func() bool { return runner.active.Load() == 2 })

	r.Shutdown()
	waitFor(t, func() bool { return runner.active.Load() == 0 })
}
