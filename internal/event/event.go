// Package event defines the normalized trigger events flowing from the
// ingress sources into the matcher, and the typed execution events handed to
// actions.
package event

import (
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Operation is the kind of change a Kubernetes watch observed.
type Operation string

const (
	OpAdd    Operation = "ADD"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// AlertStatus is the Alertmanager-side lifecycle of an alert.
type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

// TriggerEvent is a normalized input event. Every event carries a stable id
// and a monotonic arrival timestamp; EventType keys the trigger registry
// index.
type TriggerEvent interface {
	EventID() string
	EventType() string
	ArrivedAt() time.Time
}

// Meta implements the common TriggerEvent bookkeeping; concrete events embed
// it.
type Meta struct {
	ID      string
	Arrived time.Time
}

// NewMeta stamps a fresh event id and arrival time.
func NewMeta() Meta {
	return Meta{ID: uuid.NewString(), Arrived: time.Now()}
}

func (m Meta) EventID() string      { return m.ID }
func (m Meta) ArrivedAt() time.Time { return m.Arrived }

// K8sChange is an add/update/delete observed on a watched Kubernetes kind.
// Deletions carry the last-known object as Old with New nil.
type K8sChange struct {
	Meta
	Operation Operation
	Kind      string
	Old       *unstructured.Unstructured
	New       *unstructured.Unstructured
}

func (e *K8sChange) EventType() string { return "k8s/" + e.Kind }

// Obj returns the most recent object representation: New for adds/updates,
// Old for deletions.
func (e *K8sChange) Obj() *unstructured.Unstructured {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// PrometheusAlert is one alert out of an Alertmanager webhook envelope.
type PrometheusAlert struct {
	Meta
	Labels       map[string]string
	Annotations  map[string]string
	StartsAt     time.Time
	EndsAt       time.Time
	Status       AlertStatus
	GeneratorURL string
	Fingerprint  string
}

func (e *PrometheusAlert) EventType() string { return "prometheus_alert" }

// AlertName returns the alertname label.
func (e *PrometheusAlert) AlertName() string { return e.Labels["alertname"] }

// ScheduledTick is emitted by the in-process scheduler on every job fire.
type ScheduledTick struct {
	Meta
	JobID      string
	Recurrence int
}

func (e *ScheduledTick) EventType() string { return "scheduled" }

// Manual is a direct action invocation through POST /api/trigger.
type Manual struct {
	Meta
	Name    string
	Payload map[string]any
}

func (e *Manual) EventType() string { return "manual" }

// Callback is a signed interactive-choice payload re-entering the pipeline
// through POST /api/callback. The signature is verified before the event is
// constructed.
type Callback struct {
	Meta
	ActionName string
	Params     map[string]any
	Subject    map[string]string
}

func (e *Callback) EventType() string { return "callback" }

// HelmRelease is the subset of Helm release state the release monitor polls.
type HelmRelease struct {
	Name         string
	Namespace    string
	Status       string
	ChartName    string
	ChartVersion string
	Revision     int
	LastDeployed time.Time
}

// HelmReleaseTick carries one polling batch of Helm releases.
type HelmReleaseTick struct {
	Meta
	Releases []HelmRelease
}

func (e *HelmReleaseTick) EventType() string { return "helm_releases" }
