package event

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// ExecutionEvent is the typed context a matched playbook run hands to its
// action chain. Kind-specific contexts embed Base and add accessors; actions
// that need them down-cast through the capability interfaces below.
type ExecutionEvent interface {
	ExecutionBase() *Base
}

// Base carries the accumulators and identity shared by every execution event
// kind.
type Base struct {
	Source      models.FindingSource
	NamedSinks  []string
	AccountID   string
	ClusterName string

	Findings       []*models.Finding
	StopProcessing bool

	// SinkFindings is the per-sink accumulator populated by the sink router
	// after the chain completes.
	SinkFindings map[string][]*models.Finding

	// Response is returned to the HTTP caller for manual triggers.
	Response any

	// Signals carries cross-action notifications emitted via EmitSignal.
	Signals map[string]any
}

func (b *Base) ExecutionBase() *Base { return b }

// AddFinding appends a finding, defaulting its source from the event.
func (b *Base) AddFinding(f *models.Finding) {
	if f == nil {
		return
	}
	if f.Source == models.SourceNone && b.Source != "" {
		f.Source = b.Source
	}
	b.Findings = append(b.Findings, f)
}

// AddEnrichment attaches blocks to the most recent finding, creating a
// carrier finding when the chain has not produced one yet.
func (b *Base) AddEnrichment(blocks []models.Block, opts ...models.EnrichmentOption) {
	if len(blocks) == 0 {
		return
	}
	if len(b.Findings) == 0 {
		f := models.NewFinding("Enrichment")
		f.Source = b.Source
		f.Type = models.TypeReport
		b.Findings = append(b.Findings, f)
	}
	b.Findings[len(b.Findings)-1].AddEnrichment(blocks, opts...)
}

// ExtendDescription appends text to the most recent finding's description.
func (b *Base) ExtendDescription(text string) {
	if len(b.Findings) == 0 || text == "" {
		return
	}
	f := b.Findings[len(b.Findings)-1]
	if f.Description == "" {
		f.Description = text
		return
	}
	f.Description += "\n" + text
}

// OverrideFindingAttributes rewrites selected fields on the most recent
// finding. Nil pointers leave the field untouched.
func (b *Base) OverrideFindingAttributes(title, description *string, severity *models.Severity) {
	if len(b.Findings) == 0 {
		return
	}
	f := b.Findings[len(b.Findings)-1]
	if title != nil {
		f.Title = *title
	}
	if description != nil {
		f.Description = *description
	}
	if severity != nil {
		f.Severity = *severity
	}
}

// EmitSignal records a named value for later actions in the same chain.
func (b *Base) EmitSignal(name string, value any) {
	if b.Signals == nil {
		b.Signals = map[string]any{}
	}
	b.Signals[name] = value
}

// Capability interfaces let actions require what they need without knowing
// the concrete event kind.
type (
	HasPod interface {
		GetPod() *unstructured.Unstructured
	}
	HasNode interface {
		GetNode() *unstructured.Unstructured
	}
	HasDeployment interface {
		GetDeployment() *unstructured.Unstructured
	}
	HasAlert interface{ GetAlert() *PrometheusAlert }
	HasDiff  interface {
		GetChange() (old, new *unstructured.Unstructured)
	}
)

// KubernetesResourceEvent is the execution context for K8s change triggers.
// Diffs holds the change-filtered structural diff computed by the firing
// trigger for update operations.
type KubernetesResourceEvent struct {
	Base
	Change *K8sChange
	Diffs  []models.ObjectDiff
}

// GetChange returns the old and new object versions of the change.
func (e *KubernetesResourceEvent) GetChange() (*unstructured.Unstructured, *unstructured.Unstructured) {
	return e.Change.Old, e.Change.New
}

// Subject derives a finding subject from the changed object.
func (e *KubernetesResourceEvent) Subject() models.Subject {
	obj := e.Change.Obj()
	if obj == nil {
		return models.Subject{Kind: models.SubjectKind(e.Change.Kind)}
	}
	return models.Subject{
		Name:        obj.GetName(),
		Namespace:   obj.GetNamespace(),
		Kind:        models.SubjectKind(e.Change.Kind),
		Labels:      obj.GetLabels(),
		Annotations: obj.GetAnnotations(),
	}
}

// PodEvent narrows a resource event to pod changes.
type PodEvent struct {
	KubernetesResourceEvent
}

func (e *PodEvent) GetPod() *unstructured.Unstructured { return e.Change.Obj() }

// NodeEvent narrows a resource event to node changes.
type NodeEvent struct {
	KubernetesResourceEvent
}

func (e *NodeEvent) GetNode() *unstructured.Unstructured { return e.Change.Obj() }

// DeploymentEvent narrows a resource event to deployment changes, exposing
// both versions.
type DeploymentEvent struct {
	KubernetesResourceEvent
}

func (e *DeploymentEvent) GetDeployment() *unstructured.Unstructured { return e.Change.Obj() }

// PrometheusKubernetesAlert is the execution context for Prometheus alert
// triggers. The subject is inferred from well-known alert labels.
type PrometheusKubernetesAlert struct {
	Base
	Alert *PrometheusAlert
}

func (e *PrometheusKubernetesAlert) GetAlert() *PrometheusAlert { return e.Alert }

// Subject resolves the alert's subject from its labels: pod, then node, then
// workload labels, falling back to an unkinded subject.
func (e *PrometheusKubernetesAlert) Subject() models.Subject {
	labels := e.Alert.Labels
	subject := models.Subject{
		Namespace: labels["namespace"],
		Node:      labels["node"],
		Labels:    labels,
	}
	switch {
	case labels["pod"] != "":
		subject.Name = labels["pod"]
		subject.Kind = models.SubjectKindPod
		subject.Container = labels["container"]
	case labels["deployment"] != "":
		subject.Name = labels["deployment"]
		subject.Kind = models.SubjectKindDeployment
	case labels["daemonset"] != "":
		subject.Name = labels["daemonset"]
		subject.Kind = models.SubjectKindDaemonSet
	case labels["statefulset"] != "":
		subject.Name = labels["statefulset"]
		subject.Kind = models.SubjectKindStatefulSet
	case labels["horizontalpodautoscaler"] != "":
		subject.Name = labels["horizontalpodautoscaler"]
		subject.Kind = models.SubjectKindHPA
	case labels["job_name"] != "":
		subject.Name = labels["job_name"]
		subject.Kind = models.SubjectKindJob
	case labels["node"] != "":
		subject.Name = labels["node"]
		subject.Kind = models.SubjectKindNode
	}
	return subject
}

// ScheduledEvent is the execution context for scheduler ticks.
type ScheduledEvent struct {
	Base
	Tick *ScheduledTick
}

// ManualEvent is the execution context for manual HTTP triggers.
type ManualEvent struct {
	Base
	Trigger *Manual
}

// CallbackEvent is the execution context for verified callback payloads.
type CallbackEvent struct {
	Base
	Trigger *Callback
}

// HelmReleaseEvent is the execution context for Helm release transitions.
type HelmReleaseEvent struct {
	Base
	Release *HelmRelease
}
