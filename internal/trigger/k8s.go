package trigger

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/kube"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// K8sOperation is the operation filter of a Kubernetes trigger.
type K8sOperation string

const (
	K8sOpCreate     K8sOperation = "create"
	K8sOpUpdate     K8sOperation = "update"
	K8sOpDelete     K8sOperation = "delete"
	K8sOpAllChanges K8sOperation = "all_changes"
)

// ChangeFilters restricts update triggers to diffs whose paths substring-match
// the include list, after the ignore list (and the default ignore set) is
// removed.
type ChangeFilters struct {
	Include []string `yaml:"include,omitempty"`
	Ignore  []string `yaml:"ignore,omitempty"`
}

// K8sTriggerParams are the user-configurable predicates of a Kubernetes
// change trigger.
type K8sTriggerParams struct {
	Operation       K8sOperation   `yaml:"operation,omitempty"`
	NamePrefix      string         `yaml:"name_prefix,omitempty"`
	NamespacePrefix string         `yaml:"namespace_prefix,omitempty"`
	LabelSelector   string         `yaml:"label_selector,omitempty"`
	ChangeFilters   *ChangeFilters `yaml:"change_filters,omitempty"`
}

// K8sTrigger fires on add/update/delete of one Kubernetes kind.
type K8sTrigger struct {
	Kind     string
	Params   K8sTriggerParams
	selector labels.Selector
}

// NewK8sTrigger compiles a Kubernetes trigger, validating the label selector
// up front.
func NewK8sTrigger(kind string, params K8sTriggerParams) (*K8sTrigger, error) {
	if kind == "" {
		return nil, fmt.Errorf("kubernetes trigger requires a kind")
	}
	if params.Operation == "" {
		params.Operation = K8sOpAllChanges
	}
	t := &K8sTrigger{Kind: kind, Params: params}
	if params.LabelSelector != "" {
		sel, err := labels.Parse(params.LabelSelector)
		if err != nil {
			return nil, fmt.Errorf("invalid label selector %q: %w", params.LabelSelector, err)
		}
		t.selector = sel
	}
	return t, nil
}

func (t *K8sTrigger) EventTypes() []string { return []string{"k8s/" + t.Kind} }

// ShouldFire applies the operation, prefix, selector and change-filter
// predicates, AND-wise.
func (t *K8sTrigger) ShouldFire(ev event.TriggerEvent) bool {
	change, ok := ev.(*event.K8sChange)
	if !ok || change.Kind != t.Kind {
		return false
	}
	if !t.operationMatches(change.Operation) {
		return false
	}
	obj := change.Obj()
	if obj == nil {
		return false
	}
	if t.Params.NamePrefix != "" && !strings.HasPrefix(obj.GetName(), t.Params.NamePrefix) {
		return false
	}
	if t.Params.NamespacePrefix != "" && !strings.HasPrefix(obj.GetNamespace(), t.Params.NamespacePrefix) {
		return false
	}
	if t.selector != nil && !t.selector.Matches(labels.Set(obj.GetLabels())) {
		return false
	}
	if change.Operation == event.OpUpdate {
		return len(t.filteredDiffs(change)) > 0
	}
	return true
}

func (t *K8sTrigger) operationMatches(op event.Operation) bool {
	switch t.Params.Operation {
	case K8sOpAllChanges:
		return true
	case K8sOpCreate:
		return op == event.OpAdd
	case K8sOpUpdate:
		return op == event.OpUpdate
	case K8sOpDelete:
		return op == event.OpDelete
	default:
		return false
	}
}

// filteredDiffs computes the object diff with the default ignore set and the
// trigger's change filters applied.
func (t *K8sTrigger) filteredDiffs(change *event.K8sChange) []models.ObjectDiff {
	diffs := kube.Diff(change.Old, change.New)
	var include, ignore []string
	if t.Params.ChangeFilters != nil {
		include = t.Params.ChangeFilters.Include
		ignore = t.Params.ChangeFilters.Ignore
	}
	return kube.FilterDiffs(diffs, include, ignore)
}

// BuildExecutionEvent returns the kind-specific execution context.
func (t *K8sTrigger) BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent {
	change := ev.(*event.K8sChange)
	resource := event.KubernetesResourceEvent{
		Base:   event.Base{Source: models.SourceKubernetesAPIServer},
		Change: change,
	}
	if change.Operation == event.OpUpdate {
		resource.Diffs = t.filteredDiffs(change)
	}
	switch change.Kind {
	case "pod":
		return &event.PodEvent{KubernetesResourceEvent: resource}
	case "node":
		return &event.NodeEvent{KubernetesResourceEvent: resource}
	case "deployment":
		return &event.DeploymentEvent{KubernetesResourceEvent: resource}
	default:
		return &resource
	}
}
