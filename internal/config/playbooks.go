package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrelhq/kestrel/internal/trigger"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// LoadPlaybooksDocument reads and validates the playbook configuration file.
// Unknown top-level keys and duplicate sink names fail the load.
func LoadPlaybooksDocument(path string) (*models.PlaybooksDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbooks file: %w", err)
	}

	var doc models.PlaybooksDocument
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse playbooks file %s: %w", path, err)
	}

	if err := validateDocument(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validateDocument(doc *models.PlaybooksDocument) error {
	sinkNames := make(map[string]struct{}, len(doc.SinksConfig))
	for _, sd := range doc.SinksConfig {
		name := sd.Config.Name
		if name == "" {
			return fmt.Errorf("sink of type %s has no name", sd.Type)
		}
		if _, dup := sinkNames[name]; dup {
			return fmt.Errorf("duplicate sink name %q", name)
		}
		sinkNames[name] = struct{}{}
		if err := sd.Config.Scope.Validate(); err != nil {
			return fmt.Errorf("sink %q has an invalid scope: %w", name, err)
		}
	}

	for i, pb := range doc.CustomPlaybooks {
		if len(pb.Triggers) == 0 {
			return fmt.Errorf("playbook %d declares no triggers", i)
		}
		if len(pb.Actions) == 0 {
			return fmt.Errorf("playbook %d declares no actions", i)
		}
		for _, name := range pb.Sinks {
			if _, ok := sinkNames[name]; !ok {
				return fmt.Errorf("playbook %d references unknown sink %q", i, name)
			}
		}
	}
	return nil
}

// ScheduledJob is a recurrence the app must arm on the scheduler for an
// on_schedule trigger.
type ScheduledJob struct {
	TaskID string
	Params trigger.ScheduledTriggerParams
}

// CompileResult is the output of compiling one playbook document.
type CompileResult struct {
	Playbooks     []*trigger.Playbook
	ScheduledJobs []ScheduledJob
	// NeedsHelmMonitor is set when any playbook listens for Helm release
	// transitions, so the app starts the release poller.
	NeedsHelmMonitor bool
}

// ManualTriggerParams configure a manual_action trigger.
type ManualTriggerParams struct {
	Name string `yaml:"name,omitempty"`
}

// k8sKinds enumerates the kind tokens recognized in trigger names, in the
// order any-resource triggers expand to.
var k8sKinds = []string{
	"pod",
	"node",
	"service",
	"configmap",
	"persistentvolumeclaim",
	"namespace",
	"event",
	"deployment",
	"daemonset",
	"statefulset",
	"replicaset",
	"job",
	"horizontalpodautoscaler",
	"ingress",
}

var k8sOperations = map[string]trigger.K8sOperation{
	"create":      trigger.K8sOpCreate,
	"update":      trigger.K8sOpUpdate,
	"delete":      trigger.K8sOpDelete,
	"all_changes": trigger.K8sOpAllChanges,
}

// helmPresets maps the on_helm_release_* trigger names to their watched
// statuses and whether they gate on process start.
var helmPresets = map[string]struct {
	statuses []string
	oneTime  bool
}{
	"on_helm_release_fail":      {statuses: []string{"failed"}, oneTime: true},
	"on_helm_release_deploy":    {statuses: []string{"deployed"}, oneTime: true},
	"on_helm_release_uninstall": {statuses: []string{"uninstalled"}, oneTime: true},
	"on_helm_release_pending":   {statuses: []string{"pending-*"}, oneTime: false},
	"on_helm_release_info":      {statuses: []string{"failed", "deployed", "uninstalled", "pending-*"}, oneTime: false},
}

// CompilePlaybooks turns the declarative document into matchable playbooks.
// Trigger fragments are resolved by name and their parameters typechecked;
// any failure aborts the whole compile so a bad reload never half-applies.
func CompilePlaybooks(doc *models.PlaybooksDocument, provider trigger.ProviderResolver, log *slog.Logger) (*CompileResult, error) {
	result := &CompileResult{}

	for i, def := range doc.CustomPlaybooks {
		pb := &trigger.Playbook{
			ID:      fmt.Sprintf("playbook-%d", i),
			Actions: def.Actions,
			Sinks:   def.Sinks,
			Stop:    def.Stop,
		}
		for j, frag := range def.Triggers {
			compiled, job, err := compileTrigger(frag, fmt.Sprintf("%s-trigger-%d", pb.ID, j), provider)
			if err != nil {
				return nil, fmt.Errorf("playbook %d trigger %q: %w", i, frag.Name, err)
			}
			pb.Triggers = append(pb.Triggers, compiled...)
			if job != nil {
				result.ScheduledJobs = append(result.ScheduledJobs, *job)
			}
			if strings.HasPrefix(frag.Name, "on_helm_release_") {
				result.NeedsHelmMonitor = true
			}
		}
		result.Playbooks = append(result.Playbooks, pb)

		log.Debug("compiled playbook",
			"id", pb.ID, "triggers", len(pb.Triggers), "actions", len(pb.Actions), "sinks", pb.Sinks)
	}
	return result, nil
}

// compileTrigger resolves one trigger fragment. K8s any-resource triggers
// expand to one trigger per watched kind so the registry index stays flat.
func compileTrigger(frag models.NamedFragment, taskID string, provider trigger.ProviderResolver) ([]trigger.Trigger, *ScheduledJob, error) {
	switch {
	case frag.Name == "on_prometheus_alert":
		var params trigger.PrometheusTriggerParams
		if err := frag.DecodeParams(&params); err != nil {
			return nil, nil, err
		}
		t, err := trigger.NewPrometheusTrigger(params, provider)
		if err != nil {
			return nil, nil, err
		}
		return []trigger.Trigger{t}, nil, nil

	case frag.Name == "on_schedule":
		var params trigger.ScheduledTriggerParams
		if err := frag.DecodeParams(&params); err != nil {
			return nil, nil, err
		}
		if err := params.Validate(); err != nil {
			return nil, nil, err
		}
		t := &trigger.ScheduledTrigger{TaskID: taskID, Params: params}
		return []trigger.Trigger{t}, &ScheduledJob{TaskID: taskID, Params: params}, nil

	case frag.Name == "manual_action":
		var params ManualTriggerParams
		if err := frag.DecodeParams(&params); err != nil {
			return nil, nil, err
		}
		return []trigger.Trigger{&trigger.ManualTrigger{Name: params.Name}}, nil, nil

	case frag.Name == "on_callback":
		return []trigger.Trigger{&trigger.CallbackTrigger{}}, nil, nil

	case strings.HasPrefix(frag.Name, "on_helm_release_"):
		preset, ok := helmPresets[frag.Name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown trigger %q", frag.Name)
		}
		var params trigger.HelmTriggerParams
		if err := frag.DecodeParams(&params); err != nil {
			return nil, nil, err
		}
		if len(params.Statuses) == 0 {
			params.Statuses = preset.statuses
		}
		params.OneTime = preset.oneTime
		t, err := trigger.NewHelmReleaseTrigger(params)
		if err != nil {
			return nil, nil, err
		}
		return []trigger.Trigger{t}, nil, nil

	default:
		kind, op, ok := parseK8sTriggerName(frag.Name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown trigger %q", frag.Name)
		}
		var params trigger.K8sTriggerParams
		if err := frag.DecodeParams(&params); err != nil {
			return nil, nil, err
		}
		params.Operation = op

		kinds := []string{kind}
		if kind == "*" {
			kinds = k8sKinds
		}
		out := make([]trigger.Trigger, 0, len(kinds))
		for _, k := range kinds {
			t, err := trigger.NewK8sTrigger(k, params)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, t)
		}
		return out, nil, nil
	}
}

// parseK8sTriggerName splits names like on_deployment_update into
// (deployment, update). on_kubernetes_any_resource_* yields kind "*".
func parseK8sTriggerName(name string) (kind string, op trigger.K8sOperation, ok bool) {
	rest, found := strings.CutPrefix(name, "on_")
	if !found {
		return "", "", false
	}
	for suffix, operation := range k8sOperations {
		token, found := strings.CutSuffix(rest, "_"+suffix)
		if !found {
			continue
		}
		if token == "kubernetes_any_resource" {
			return "*", operation, true
		}
		for _, known := range k8sKinds {
			if token == known {
				return token, operation, true
			}
		}
	}
	return "", "", false
}
