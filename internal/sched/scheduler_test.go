package sched

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kestrelhq/kestrel/internal/event"
)

// captureHandler records emitted ticks.
type captureHandler struct {
	mu    sync.Mutex
	ticks []*event.ScheduledTick
}

func (h *captureHandler) Enqueue(ev event.TriggerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, ev.(*event.ScheduledTick))
}

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ticks)
}

func (h *captureHandler) tick(i int) *event.ScheduledTick {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks[i]
}

func waitForTicks(t *testing.T, h *captureHandler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d ticks, want at least %d", h.count(), n)
}

func TestFixedDelay(t *testing.T) {
	h := &captureHandler{}
	s := New(h, slog.Default())
	defer s.Stop()

	if err := s.ScheduleFixedDelay("job-1", 10*time.Millisecond, false); err != nil {
		t.Fatal(err)
	}

	waitForTicks(t, h, 2)
	first := h.tick(0)
	if first.JobID != "job-1" || first.Recurrence != 1 {
		t.Fatalf("unexpected first tick %+v", first)
	}
	if h.tick(1).Recurrence != 2 {
		t.Fatalf("recurrence must increment: %+v", h.tick(1))
	}
}

func TestDynamicDelays(t *testing.T) {
	h := &captureHandler{}
	s := New(h, slog.Default())
	defer s.Stop()

	delays := []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}
	if err := s.ScheduleDynamicDelays("job-1", delays, false); err != nil {
		t.Fatal(err)
	}

	waitForTicks(t, h, 2)
	time.Sleep(30 * time.Millisecond)
	if h.count() != 2 {
		t.Fatalf("dynamic delay job must stop after its offsets, got %d ticks", h.count())
	}

	// The finished job released its id.
	if err := s.ScheduleOnce("job-1", time.Hour, false); err != nil {
		t.Fatalf("finished job should free its id: %v", err)
	}
}

func TestDynamicDelaysRequireOffsets(t *testing.T) {
	s := New(&captureHandler{}, slog.Default())
	defer s.Stop()
	if err := s.ScheduleDynamicDelays("job-1", nil, false); err == nil {
		t.Fatal("empty delay list must fail")
	}
}

func TestReplaceExisting(t *testing.T) {
	h := &captureHandler{}
	s := New(h, slog.Default())
	defer s.Stop()

	if err := s.ScheduleFixedDelay("job-1", time.Hour, false); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleFixedDelay("job-1", time.Hour, false); err == nil {
		t.Fatal("re-arming without replace must fail")
	}
	if err := s.ScheduleFixedDelay("job-1", 10*time.Millisecond, true); err != nil {
		t.Fatalf("re-arming with replace must succeed: %v", err)
	}
	waitForTicks(t, h, 1)
}

func TestUnschedule(t *testing.T) {
	h := &captureHandler{}
	s := New(h, slog.Default())
	defer s.Stop()

	if err := s.ScheduleFixedDelay("job-1", 10*time.Millisecond, false); err != nil {
		t.Fatal(err)
	}
	s.Unschedule("job-1")
	// Let an already in-flight tick land before taking the snapshot.
	time.Sleep(20 * time.Millisecond)
	seen := h.count()
	time.Sleep(50 * time.Millisecond)
	if h.count() > seen {
		t.Fatal("unscheduled job kept firing")
	}

	// Unscheduling an unknown id is a no-op.
	s.Unschedule("job-1")
	s.Unschedule("never-existed")
}

func TestCronTicksCountRecurrences(t *testing.T) {
	if testing.Short() {
		t.Skip("cron resolution is one second")
	}
	h := &captureHandler{}
	s := New(h, slog.Default())
	s.Start()
	defer s.Stop()

	if err := s.ScheduleCron("job-1", "@every 1s", false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && h.count() < 2 {
		time.Sleep(50 * time.Millisecond)
	}
	if h.count() < 2 {
		t.Fatalf("got %d cron ticks, want at least 2", h.count())
	}
	if h.tick(0).Recurrence != 1 || h.tick(1).Recurrence != 2 {
		t.Fatalf("recurrence must count fires in order: %+v %+v", h.tick(0), h.tick(1))
	}
}

func TestCronValidation(t *testing.T) {
	s := New(&captureHandler{}, slog.Default())
	s.Start()
	defer s.Stop()

	if err := s.ScheduleCron("job-1", "not a cron spec", false); err == nil {
		t.Fatal("invalid cron spec must fail")
	}
	if err := s.ScheduleCron("job-1", "@every 1h", false); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := s.ScheduleCron("job-1", "@every 1h", false); err == nil {
		t.Fatal("duplicate cron job without replace must fail")
	}
	if err := s.ScheduleCron("job-1", "@every 30m", true); err != nil {
		t.Fatalf("replace must succeed: %v", err)
	}
}
