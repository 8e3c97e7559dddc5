package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/statusd/internal/checker"
	"github.com/hazz-dev/statusd/internal/config"
	"github.com/hazz-dev/statusd/internal/scheduler"
	"github.com/hazz-dev/statusd/internal/storage"
)

// day1 is 2024-03-02T00:00:00Z.
const day1 int64 = 1709337600

// fakeClock advances by exactly the requested duration on every After call
// and cancels the run once stop is reached.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	stop   time.Time
	cancel context.CancelFunc

	// jump is added once when now first reaches jumpAt (a suspend/resume).
	jumpAt time.Time
	jump   time.Duration
	jumped bool

	// Waits longer than blockOver never fire when blockOver is set.
	blockOver time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockOver > 0 && d > c.blockOver {
		return nil
	}
	c.now = c.now.Add(d)
	if c.jump > 0 && !c.jumped && !c.now.Before(c.jumpAt) {
		c.now = c.now.Add(c.jump)
		c.jumped = true
	}
	if !c.stop.IsZero() && !c.now.Before(c.stop) {
		c.cancel()
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type insertCall struct {
	id uint64
	ts int64
	ok bool
}

type aggregateCall struct {
	id  uint64
	ref int64
}

// mockStore records every write.
type mockStore struct {
	mu         sync.Mutex
	inserts    []insertCall
	aggregates []aggregateCall
	insertErr  error
	aggErr     error
}

func (m *mockStore) InsertHealthcheck(_ context.Context, id uint64, ts int64, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserts = append(m.inserts, insertCall{id, ts, ok})
	return nil
}

func (m *mockStore) AggregateDay(_ context.Context, id uint64, ref int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregates = append(m.aggregates, aggregateCall{id, ref})
	if m.aggErr != nil {
		return 0, m.aggErr
	}
	return 0, nil
}

func (m *mockStore) aggregateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aggregates)
}

// mockChecker always returns a fixed status.
type mockChecker struct {
	status checker.Status
}

func (m *mockChecker) Check(ctx context.Context) checker.CheckResult {
	return checker.CheckResult{Status: m.status, CheckedAt: time.Now()}
}

func makeServices() []config.Service {
	return []config.Service{
		{ID: 1, Name: "up-svc", Command: "true"},
		{ID: 2, Name: "down-svc", Command: "false"},
	}
}

func statusFactory(svc config.Service) (checker.Checker, error) {
	if svc.Command == "true" {
		return &mockChecker{status: checker.StatusUp}, nil
	}
	return &mockChecker{status: checker.StatusDown}, nil
}

func runUntilStop(t *testing.T, sched *scheduler.Scheduler, clock *fakeClock) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.cancel = cancel
	sched.SetClock(clock)

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestScheduler_ChecksEveryMinuteAndRollsOver(t *testing.T) {
	store := &mockStore{}
	sched := scheduler.New(makeServices(), store, statusFactory, nil)
	clock := &fakeClock{
		now:  time.Unix(day1-150, 0), // 23:57:30
		stop: time.Unix(day1+30, 0),
	}

	if err := runUntilStop(t, sched, clock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []insertCall{
		{1, day1 - 120, true}, {2, day1 - 120, false},
		{1, day1 - 60, true}, {2, day1 - 60, false},
		{1, day1, true}, {2, day1, false},
	}
	if fmt.Sprint(store.inserts) != fmt.Sprint(want) {
		t.Errorf("unexpected inserts:\n got %v\nwant %v", store.inserts, want)
	}

	// Rollover happens after the last check of the day, for that day.
	wantAgg := []aggregateCall{{1, day1 - 60}, {2, day1 - 60}}
	if fmt.Sprint(store.aggregates) != fmt.Sprint(wantAgg) {
		t.Errorf("unexpected aggregates:\n got %v\nwant %v", store.aggregates, wantAgg)
	}
}

func TestScheduler_TimestampsAreMinuteAligned(t *testing.T) {
	store := &mockStore{}
	sched := scheduler.New(makeServices()[:1], store, statusFactory, nil)
	clock := &fakeClock{
		now:  time.Unix(day1+7, 0),
		stop: time.Unix(day1+5*60+7, 0),
	}
	if err := runUntilStop(t, sched, clock); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.inserts) != 5 {
		t.Fatalf("expected 5 checks in 5 minutes, got %d", len(store.inserts))
	}
	for _, in := range store.inserts {
		if in.ts%storage.MinuteSeconds != 0 {
			t.Errorf("timestamp %d is not minute aligned", in.ts)
		}
	}
}

func TestScheduler_CatchUpSkipsMissedMinutes(t *testing.T) {
	base := day1 + 10*3600 // 10:00:00
	store := &mockStore{}
	sched := scheduler.New(makeServices()[:1], store, statusFactory, nil)
	clock := &fakeClock{
		now:    time.Unix(base+30, 0),
		stop:   time.Unix(base+450, 0),
		jumpAt: time.Unix(base+70, 0),
		jump:   5 * time.Minute,
	}

	if err := runUntilStop(t, sched, clock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []int64
	for _, in := range store.inserts {
		got = append(got, in.ts-base)
	}
	want := []int64{60, 360, 420}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected offsets %v, got %v", want, got)
	}
}

func TestScheduler_InsertFailureIsFatal(t *testing.T) {
	store := &mockStore{insertErr: fmt.Errorf("disk full: %w", storage.ErrUnavailable)}
	sched := scheduler.New(makeServices(), store, statusFactory, nil)
	clock := &fakeClock{
		now:  time.Unix(day1+10, 0),
		stop: time.Unix(day1+3600, 0),
	}

	err := runUntilStop(t, sched, clock)
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Run, got %v", err)
	}
	if clock.Now().Unix() != day1+60 {
		t.Errorf("expected Run to stop at the first pass, clock at %d", clock.Now().Unix()-day1)
	}
}

func TestScheduler_RolloverDuplicateIsNotFatal(t *testing.T) {
	store := &mockStore{aggErr: fmt.Errorf("history: %w", storage.ErrDuplicateKey)}
	sched := scheduler.New(makeServices(), store, statusFactory, nil)
	clock := &fakeClock{
		now:  time.Unix(day1-90, 0),
		stop: time.Unix(day1+90, 0),
	}

	if err := runUntilStop(t, sched, clock); err != nil {
		t.Fatalf("expected duplicate rollover to be tolerated, got %v", err)
	}
	if len(store.aggregates) != 2 {
		t.Errorf("expected 2 aggregate attempts, got %d", len(store.aggregates))
	}
	// Checks continue on the next day.
	var nextDay int
	for _, in := range store.inserts {
		if in.ts >= day1 {
			nextDay++
		}
	}
	if nextDay == 0 {
		t.Error("expected checks after the rollover")
	}
}

func TestScheduler_RolloverFailureIsFatal(t *testing.T) {
	store := &mockStore{aggErr: fmt.Errorf("io: %w", storage.ErrUnavailable)}
	sched := scheduler.New(makeServices(), store, statusFactory, nil)
	clock := &fakeClock{
		now:  time.Unix(day1-90, 0),
		stop: time.Unix(day1+90, 0),
	}

	err := runUntilStop(t, sched, clock)
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(store.aggregates) != 1 {
		t.Errorf("expected to stop after the first failed aggregate, got %d calls", len(store.aggregates))
	}
}

func TestScheduler_EndOfDayWaitIsCancellable(t *testing.T) {
	store := &mockStore{}
	sched := scheduler.New(makeServices(), store, statusFactory, nil)
	clock := &fakeClock{
		now:       time.Unix(day1-90, 0),
		blockOver: time.Minute,
	}
	sched.SetClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for store.aggregateCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.aggregateCount() < 2 {
		t.Fatal("rollover did not happen")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not return within 2s after cancel during end-of-day wait")
	}
}

func TestScheduler_OnResultCallback(t *testing.T) {
	store := &mockStore{}
	sched := scheduler.New(makeServices(), store, statusFactory, nil)

	var mu sync.Mutex
	var prevs []string
	sched.SetOnResult(func(r checker.CheckResult, prev *checker.Status) {
		mu.Lock()
		defer mu.Unlock()
		if r.Status != checker.StatusDown {
			return
		}
		if prev == nil {
			prevs = append(prevs, "nil")
		} else {
			prevs = append(prevs, string(*prev))
		}
	})

	clock := &fakeClock{
		now:  time.Unix(day1+10, 0),
		stop: time.Unix(day1+130, 0),
	}
	if err := runUntilStop(t, sched, clock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(prevs) != "[nil down]" {
		t.Errorf("expected previous statuses [nil down], got %v", prevs)
	}
}

func TestScheduler_FactoryErrorStopsRun(t *testing.T) {
	factory := func(svc config.Service) (checker.Checker, error) {
		return nil, errors.New("no shell")
	}
	sched := scheduler.New(makeServices(), &mockStore{}, factory, nil)
	if err := sched.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run, got nil")
	}
}
