// Package trigger holds the compiled playbook rules and the matcher that
// selects playbooks for incoming events.
package trigger

import (
	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// Trigger is a predicate over normalized events. EventTypes keys the registry
// index; ShouldFire decides the match; BuildExecutionEvent produces the typed
// context for the action chain.
type Trigger interface {
	EventTypes() []string
	ShouldFire(ev event.TriggerEvent) bool
	BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent
}

// Playbook is the compiled form of one user-declared playbook: triggers are
// evaluated OR-wise, actions keep declaration order as raw fragments for the
// executor to resolve.
type Playbook struct {
	ID       string
	Triggers []Trigger
	Actions  []models.NamedFragment
	Sinks    []string
	Stop     bool
}

// FiringTrigger returns the first trigger whose predicate fires for the
// event, or nil when none does.
func (p *Playbook) FiringTrigger(ev event.TriggerEvent) Trigger {
	for _, t := range p.Triggers {
		if t.ShouldFire(ev) {
			return t
		}
	}
	return nil
}
