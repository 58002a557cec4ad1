// Package sched implements the in-process scheduler behind recurring and
// one-shot triggers.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrelhq/kestrel/internal/event"
)

// EventHandler receives the ticks emitted by scheduled jobs.
type EventHandler interface {
	Enqueue(ev event.TriggerEvent)
}

// Scheduler runs jobs keyed by task id. Re-arming an existing id requires
// replaceExisting; otherwise scheduling fails.
type Scheduler struct {
	log     *slog.Logger
	handler EventHandler
	cron    *cron.Cron

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	cancel context.CancelFunc
	cronID cron.EntryID
}

// New constructs a stopped scheduler; call Start before scheduling cron jobs.
func New(handler EventHandler, log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:     log.With("component", "scheduler"),
		handler: handler,
		cron:    cron.New(),
		jobs:    make(map[string]*job),
	}
}

// Start launches the cron runner.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels all jobs and waits for the cron runner to finish in-flight
// fires.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
		}
		if j.cronID != 0 {
			s.cron.Remove(j.cronID)
		}
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// ScheduleFixedDelay fires every delay, starting one delay from now.
func (s *Scheduler) ScheduleFixedDelay(taskID string, delay time.Duration, replaceExisting bool) error {
	return s.scheduleLoop(taskID, replaceExisting, func(ctx context.Context) {
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		recurrence := 0
		for {
			select {
			case <-ticker.C:
				recurrence++
				s.emit(taskID, recurrence)
			case <-ctx.Done():
				return
			}
		}
	})
}

// ScheduleDynamicDelays fires once after each offset in order, then stops.
func (s *Scheduler) ScheduleDynamicDelays(taskID string, delays []time.Duration, replaceExisting bool) error {
	if len(delays) == 0 {
		return fmt.Errorf("dynamic delay job %q requires at least one delay", taskID)
	}
	return s.scheduleLoop(taskID, replaceExisting, func(ctx context.Context) {
		for i, d := range delays {
			select {
			case <-time.After(d):
				s.emit(taskID, i+1)
			case <-ctx.Done():
				return
			}
		}
		s.remove(taskID)
	})
}

// ScheduleOnce fires a single tick after delay.
func (s *Scheduler) ScheduleOnce(taskID string, delay time.Duration, replaceExisting bool) error {
	return s.scheduleLoop(taskID, replaceExisting, func(ctx context.Context) {
		select {
		case <-time.After(delay):
			s.emit(taskID, 1)
			s.remove(taskID)
		case <-ctx.Done():
		}
	})
}

// ScheduleCron fires on the given cron expression.
func (s *Scheduler) ScheduleCron(taskID, spec string, replaceExisting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replaceLocked(taskID, replaceExisting); err != nil {
		return err
	}
	// The cron runner fires each tick on its own goroutine.
	var recurrence atomic.Int64
	id, err := s.cron.AddFunc(spec, func() {
		s.emit(taskID, int(recurrence.Add(1)))
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q for job %q: %w", spec, taskID, err)
	}
	s.jobs[taskID] = &job{cronID: id}
	return nil
}

// Unschedule cancels the job with the given task id if present.
func (s *Scheduler) Unschedule(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[taskID]; ok {
		if j.cancel != nil {
			j.cancel()
		}
		if j.cronID != 0 {
			s.cron.Remove(j.cronID)
		}
		delete(s.jobs, taskID)
	}
}

func (s *Scheduler) scheduleLoop(taskID string, replaceExisting bool, run func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replaceLocked(taskID, replaceExisting); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.jobs[taskID] = &job{cancel: cancel}
	go run(ctx)
	return nil
}

// replaceLocked enforces replace-existing semantics; callers hold s.mu.
func (s *Scheduler) replaceLocked(taskID string, replaceExisting bool) error {
	existing, ok := s.jobs[taskID]
	if !ok {
		return nil
	}
	if !replaceExisting {
		return fmt.Errorf("job %q already scheduled", taskID)
	}
	if existing.cancel != nil {
		existing.cancel()
	}
	if existing.cronID != 0 {
		s.cron.Remove(existing.cronID)
	}
	delete(s.jobs, taskID)
	return nil
}

func (s *Scheduler) remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, taskID)
}

func (s *Scheduler) emit(taskID string, recurrence int) {
	s.handler.Enqueue(&event.ScheduledTick{
		Meta:       event.NewMeta(),
		JobID:      taskID,
		Recurrence: recurrence,
	})
}
