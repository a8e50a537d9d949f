package adbreak

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRunner struct {
	err     error
	calls   int
	release chan struct{} // when set, Run blocks until closed
}

func (r *fakeRunner) Run(ctx context.Context) error {
	r.calls++
	if r.release != nil {
		<-r.release
	}
	return r.err
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestPolicy(runner Runner, clock *testClock) *Policy {
	return NewPolicy(1, NewMemoryStore(), runner, Options{
		Interval:      30 * time.Minute,
		GracePeriod:   30 * time.Minute,
		SkipWindow:    60 * time.Second,
		SkipThreshold: 5,
		MaxFailures:   3,
		Clock:         clock.Now,
	})
}

func TestCheckForAds_ForceRunsOnFreshState(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	if !p.CheckForAds(context.Background(), ReasonForce) {
		t.Fatal("CheckForAds(force) = false, want true")
	}
	if runner.calls != 1 {
		t.Errorf("runner.calls = %d, want 1", runner.calls)
	}
}

func TestCheckForAds_GraceBlocksEverythingExceptForce(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	// Successful break starts the grace period.
	if !p.CheckForAds(context.Background(), ReasonForce) {
		t.Fatal("initial break did not run")
	}
	runner.calls = 0

	clock.Advance(10 * time.Minute) // still inside grace

	for i := 0; i < 5; i++ {
		p.RecordSkip()
	}
	if p.CheckForAds(context.Background(), ReasonSkip) {
		t.Error("skip trigger fired inside grace period")
	}
	if p.CheckForAds(context.Background(), ReasonInterval) {
		t.Error("interval trigger fired inside grace period")
	}
	if !p.CheckForAds(context.Background(), ReasonForce) {
		t.Error("force must bypass the grace period")
	}
}

func TestCheckForAds_IntervalFiresAfterGap(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	if !p.CheckForAds(context.Background(), ReasonForce) {
		t.Fatal("initial break did not run")
	}

	clock.Advance(31 * time.Minute) // past grace, past interval
	if !p.CheckForAds(context.Background(), ReasonInterval) {
		t.Error("interval trigger should fire after the configured gap")
	}
}

func TestCheckForAds_SkipThreshold(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	for i := 0; i < 4; i++ {
		p.RecordSkip()
	}
	if p.CheckForAds(context.Background(), ReasonSkip) {
		t.Error("skip trigger fired below threshold")
	}

	p.RecordSkip() // fifth skip
	if !p.CheckForAds(context.Background(), ReasonSkip) {
		t.Error("skip trigger should fire at the threshold")
	}
}

func TestRecordSkip_WindowResetsCounter(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := NewPolicy(1, NewMemoryStore(), runner, Options{
		SkipWindow: 20 * time.Millisecond,
		Clock:      clock.Now,
	})

	for i := 0; i < 5; i++ {
		p.RecordSkip()
	}
	time.Sleep(60 * time.Millisecond) // debounce elapses, counter clears

	if p.CheckForAds(context.Background(), ReasonSkip) {
		t.Error("skip trigger fired after the window reset the counter")
	}
}

func TestCheckForAds_CircuitBreaker(t *testing.T) {
	runner := &fakeRunner{err: errors.New("clip failed")}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	// Three failed breaks trip the breaker. Each still reports that a
	// break ran.
	for i := 0; i < 3; i++ {
		if !p.CheckForAds(context.Background(), ReasonForce) {
			t.Fatalf("break %d did not run", i+1)
		}
	}

	for _, reason := range []Reason{ReasonForce, ReasonInterval, ReasonSkip} {
		if p.CheckForAds(context.Background(), reason) {
			t.Errorf("CheckForAds(%s) = true after breaker tripped", reason)
		}
	}
	if runner.calls != 3 {
		t.Errorf("runner.calls = %d, want 3", runner.calls)
	}
}

func TestCheckForAds_SuccessResetsFailureCount(t *testing.T) {
	runner := &fakeRunner{err: errors.New("clip failed")}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock) // MaxFailures: 3

	p.CheckForAds(context.Background(), ReasonForce)
	p.CheckForAds(context.Background(), ReasonForce)

	runner.err = nil
	p.CheckForAds(context.Background(), ReasonForce) // success clears the count

	runner.err = errors.New("clip failed")
	p.CheckForAds(context.Background(), ReasonForce)
	p.CheckForAds(context.Background(), ReasonForce)

	// Two failures since the last success: the breaker must not have
	// tripped, so a further break still runs.
	if !p.CheckForAds(context.Background(), ReasonForce) {
		t.Error("breaker tripped despite the intervening success")
	}
}

func TestCheckForAds_TrippedBreakerDoesNotSurviveRestart(t *testing.T) {
	runner := &fakeRunner{err: errors.New("clip failed")}
	clock := &testClock{now: time.Unix(1000000, 0)}
	store := NewMemoryStore()
	p := NewPolicy(1, store, runner, Options{MaxFailures: 3, Clock: clock.Now})

	for i := 0; i < 3; i++ {
		if !p.CheckForAds(context.Background(), ReasonForce) {
			t.Fatalf("break %d did not run", i+1)
		}
	}
	if p.CheckForAds(context.Background(), ReasonForce) {
		t.Fatal("breaker did not trip at the ceiling")
	}

	// A fresh policy over the same store is a process restart: the
	// failure count is not part of the persisted state, so ads come back.
	runner.err = nil
	fresh := NewPolicy(1, store, runner, Options{MaxFailures: 3, Clock: clock.Now})
	if !fresh.CheckForAds(context.Background(), ReasonForce) {
		t.Error("ads stayed disabled after a restart")
	}
}

func TestCheckForAds_SuccessResetsSkipCounter(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	for i := 0; i < 5; i++ {
		p.RecordSkip()
	}
	if !p.CheckForAds(context.Background(), ReasonSkip) {
		t.Fatal("skip break did not run")
	}

	// The successful break reset the counter AND the interval clock; a
	// fresh skip check outside grace must not fire with zero skips.
	clock.Advance(31 * time.Minute)
	if p.CheckForAds(context.Background(), ReasonSkip) {
		t.Error("skip trigger fired with a reset counter")
	}
}

func TestCheckForAds_ConcurrentCallsShortCircuit(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	started := make(chan struct{})
	done := make(chan bool)
	go func() {
		close(started)
		done <- p.CheckForAds(context.Background(), ReasonForce)
	}()

	<-started
	// Wait until the runner is actually inside Run.
	for i := 0; i < 100 && runner.calls == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	if p.CheckForAds(context.Background(), ReasonForce) {
		t.Error("second CheckForAds returned true while a break was in progress")
	}

	close(runner.release)
	if !<-done {
		t.Error("first CheckForAds = false, want true")
	}
	if runner.calls != 1 {
		t.Errorf("runner.calls = %d, want 1", runner.calls)
	}
}

func TestSetOnBreakChange(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	var events []bool
	p.SetOnBreakChange(func(active bool) { events = append(events, active) })

	p.CheckForAds(context.Background(), ReasonForce)

	if len(events) != 2 || !events[0] || events[1] {
		t.Errorf("break change events = %v, want [true false]", events)
	}
}

func TestBeforeTrackDue(t *testing.T) {
	runner := &fakeRunner{}
	clock := &testClock{now: time.Unix(1000000, 0)}
	p := newTestPolicy(runner, clock)

	if !p.BeforeTrackDue() {
		t.Error("fresh state should be due for the preemptive check")
	}

	p.CheckForAds(context.Background(), ReasonForce)
	if p.BeforeTrackDue() {
		t.Error("preemptive check should be blocked inside the grace period")
	}

	clock.Advance(31 * time.Minute)
	if !p.BeforeTrackDue() {
		t.Error("preemptive check should be due after the grace period")
	}
}
