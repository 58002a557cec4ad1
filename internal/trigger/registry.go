package trigger

import (
	"sync/atomic"

	"github.com/kestrelhq/kestrel/internal/event"
)

// Match pairs a selected playbook with the trigger that fired for it.
type Match struct {
	Playbook *Playbook
	Trigger  Trigger
}

// Registry indexes playbooks by event type for O(1) candidate lookup. A
// registry is immutable after construction; reloads build a new one and swap
// it through a Holder.
type Registry struct {
	byType    map[string][]*Playbook
	playbooks []*Playbook
}

// NewRegistry indexes the playbooks, preserving declaration order within each
// event type bucket.
func NewRegistry(playbooks []*Playbook) *Registry {
	r := &Registry{
		byType:    make(map[string][]*Playbook),
		playbooks: playbooks,
	}
	for _, p := range playbooks {
		seen := make(map[string]struct{})
		for _, t := range p.Triggers {
			for _, et := range t.EventTypes() {
				if _, dup := seen[et]; dup {
					continue
				}
				seen[et] = struct{}{}
				r.byType[et] = append(r.byType[et], p)
			}
		}
	}
	return r
}

// Playbooks returns all indexed playbooks in declaration order.
func (r *Registry) Playbooks() []*Playbook { return r.playbooks }

// Match yields the playbooks selected for the event, in declaration order.
// Per playbook, triggers are evaluated OR-wise and the first firing trigger
// wins. Pure: no mutation, safe for concurrent use.
func (r *Registry) Match(ev event.TriggerEvent) []Match {
	candidates := r.byType[ev.EventType()]
	var matches []Match
	for _, p := range candidates {
		if t := p.FiringTrigger(ev); t != nil {
			matches = append(matches, Match{Playbook: p, Trigger: t})
		}
	}
	return matches
}

// Holder is the copy-on-write handle to the active registry. In-flight events
// keep the registry they started with; Swap is atomic.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder starts with the given registry.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

// Get returns the active registry.
func (h *Holder) Get() *Registry { return h.current.Load() }

// Swap atomically installs a new registry and returns the previous one.
func (h *Holder) Swap(r *Registry) *Registry { return h.current.Swap(r) }
