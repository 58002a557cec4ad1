package trigger

import (
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// ScheduledTriggerParams configure an on_schedule trigger. Exactly one of
// FixedDelaySeconds, DynamicDelaySeconds or Cron must be set.
type ScheduledTriggerParams struct {
	FixedDelaySeconds   int    `yaml:"fixed_delay_repeat,omitempty"`
	DynamicDelaySeconds []int  `yaml:"dynamic_delay_repeat,omitempty"`
	Cron                string `yaml:"cron,omitempty"`
}

// Validate checks that exactly one recurrence mode is configured.
func (p ScheduledTriggerParams) Validate() error {
	modes := 0
	if p.FixedDelaySeconds > 0 {
		modes++
	}
	if len(p.DynamicDelaySeconds) > 0 {
		modes++
	}
	if p.Cron != "" {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("on_schedule requires exactly one of fixed_delay_repeat, dynamic_delay_repeat, cron")
	}
	return nil
}

// DynamicDelays converts the configured second offsets to durations.
func (p ScheduledTriggerParams) DynamicDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(p.DynamicDelaySeconds))
	for _, s := range p.DynamicDelaySeconds {
		delays = append(delays, time.Duration(s)*time.Second)
	}
	return delays
}

// ScheduledTrigger fires on ticks of the job the loader armed for it. The
// predicate only checks job identity; the scheduler guarantees the rate.
type ScheduledTrigger struct {
	TaskID string
	Params ScheduledTriggerParams
}

func (t *ScheduledTrigger) EventTypes() []string { return []string{"scheduled"} }

func (t *ScheduledTrigger) ShouldFire(ev event.TriggerEvent) bool {
	tick, ok := ev.(*event.ScheduledTick)
	return ok && tick.JobID == t.TaskID
}

func (t *ScheduledTrigger) BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent {
	tick := ev.(*event.ScheduledTick)
	return &event.ScheduledEvent{
		Base: event.Base{Source: models.SourceNone},
		Tick: tick,
	}
}
