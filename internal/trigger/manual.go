package trigger

import (
	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// ManualTrigger fires on direct invocations through POST /api/trigger whose
// name matches.
type ManualTrigger struct {
	Name string
}

func (t *ManualTrigger) EventTypes() []string { return []string{"manual"} }

func (t *ManualTrigger) ShouldFire(ev event.TriggerEvent) bool {
	m, ok := ev.(*event.Manual)
	return ok && (t.Name == "" || m.Name == t.Name)
}

func (t *ManualTrigger) BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent {
	m := ev.(*event.Manual)
	return &event.ManualEvent{
		Base:    event.Base{Source: models.SourceManual},
		Trigger: m,
	}
}

// CallbackTrigger fires on verified callback payloads. Signature checks
// happen at the ingress before the event is built.
type CallbackTrigger struct{}

func (t *CallbackTrigger) EventTypes() []string { return []string{"callback"} }

func (t *CallbackTrigger) ShouldFire(ev event.TriggerEvent) bool {
	_, ok := ev.(*event.Callback)
	return ok
}

func (t *CallbackTrigger) BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent {
	cb := ev.(*event.Callback)
	return &event.CallbackEvent{
		Base:    event.Base{Source: models.SourceCallback},
		Trigger: cb,
	}
}
