package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/promclient"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// RegisterBuiltinActions installs the baseline action set. Heavier analysis
// actions live in their own modules and register themselves the same way.
func RegisterBuiltinActions(r *ActionRegistry) {
	r.MustRegister(ActionDescriptor{
		Name:      "create_finding",
		NewParams: func() any { return &CreateFindingParams{Severity: models.SeverityHigh} },
		Run:       createFinding,
	})
	r.MustRegister(ActionDescriptor{
		Name:      "customise_finding",
		NewParams: func() any { return &CustomiseFindingParams{} },
		Run:       customiseFinding,
	})
	r.MustRegister(ActionDescriptor{
		Name:      "resource_babysitter",
		NewParams: func() any { return &ResourceBabysitterParams{} },
		Run:       resourceBabysitter,
	})
	r.MustRegister(ActionDescriptor{
		Name:      "report_crash_loop",
		NewParams: func() any { return &ReportCrashLoopParams{PeriodSeconds: 600} },
		Run:       reportCrashLoop,
	})
	r.MustRegister(ActionDescriptor{
		Name:      "logs_enricher",
		NewParams: func() any { return &LogsEnricherParams{} },
		Run:       logsEnricher,
	})
	r.MustRegister(ActionDescriptor{
		Name:      "add_silence_from_prometheus_alert",
		NewParams: func() any { return &AddSilenceParams{DurationSeconds: 3600} },
		Run:       addSilenceFromAlert,
	})
	r.MustRegister(ActionDescriptor{
		Name:      "prometheus_enricher",
		NewParams: func() any { return &PrometheusEnricherParams{} },
		Run:       prometheusEnricher,
	})
	r.MustRegister(ActionDescriptor{
		Name: "stop_processing",
		Run: func(_ context.Context, _ *Runtime, ev event.ExecutionEvent, _ any) error {
			ev.ExecutionBase().StopProcessing = true
			return nil
		},
	})
}

// CreateFindingParams configure the create_finding action.
type CreateFindingParams struct {
	Title          string          `yaml:"title"`
	Description    string          `yaml:"description,omitempty"`
	Severity       models.Severity `yaml:"severity,omitempty"`
	AggregationKey string          `yaml:"aggregation_key,omitempty"`
	AddSilenceURL  bool            `yaml:"add_silence_url,omitempty"`
}

func createFinding(_ context.Context, _ *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*CreateFindingParams)
	if p.Title == "" {
		return models.NewActionError(models.ErrIllegalActionParams, "create_finding requires a title", nil)
	}

	f := models.NewFinding(p.Title)
	f.Description = p.Description
	f.Severity = p.Severity
	f.AggregationKey = p.AggregationKey
	f.AddSilenceURL = p.AddSilenceURL

	switch typed := ev.(type) {
	case *event.PrometheusKubernetesAlert:
		f.Subject = typed.Subject()
		f.Fingerprint = typed.Alert.Fingerprint
		f.StartsAt = typed.Alert.StartsAt
		if f.AggregationKey == "" {
			f.AggregationKey = typed.Alert.AlertName()
		}
		if typed.Alert.Status == event.AlertResolved {
			f.MarkResolved()
		}
	case *event.PodEvent:
		f.Subject = typed.Subject()
	case *event.NodeEvent:
		f.Subject = typed.Subject()
	case *event.DeploymentEvent:
		f.Subject = typed.Subject()
	case *event.KubernetesResourceEvent:
		f.Subject = typed.Subject()
	}

	ev.ExecutionBase().AddFinding(f)
	return nil
}

// CustomiseFindingParams configure the customise_finding action.
type CustomiseFindingParams struct {
	Title       *string          `yaml:"title,omitempty"`
	Description *string          `yaml:"description,omitempty"`
	Severity    *models.Severity `yaml:"severity,omitempty"`
}

func customiseFinding(_ context.Context, _ *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*CustomiseFindingParams)
	ev.ExecutionBase().OverrideFindingAttributes(p.Title, p.Description, p.Severity)
	return nil
}

// ResourceBabysitterParams configure the resource_babysitter action.
type ResourceBabysitterParams struct {
	OmitDiff bool `yaml:"omit_diff,omitempty"`
}

// resourceBabysitter reports resource changes, attaching the change-filtered
// diff computed by the firing trigger.
func resourceBabysitter(_ context.Context, _ *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*ResourceBabysitterParams)

	var resource *event.KubernetesResourceEvent
	switch typed := ev.(type) {
	case *event.PodEvent:
		resource = &typed.KubernetesResourceEvent
	case *event.NodeEvent:
		resource = &typed.KubernetesResourceEvent
	case *event.DeploymentEvent:
		resource = &typed.KubernetesResourceEvent
	case *event.KubernetesResourceEvent:
		resource = typed
	default:
		return models.NewActionError(models.ErrResourceNotSupported,
			"resource_babysitter requires a kubernetes change event", nil)
	}

	change := resource.Change
	subject := resource.Subject()
	f := models.NewFinding(fmt.Sprintf("%s %s/%s %s",
		change.Kind, subject.Namespace, subject.Name, describeOperation(change.Operation)))
	f.Type = models.TypeConfChange
	f.Severity = models.SeverityInfo
	f.AggregationKey = "ConfigurationChange/KubernetesResource/" + describeOperation(change.Operation)
	f.Subject = subject

	if change.Operation == event.OpUpdate && !p.OmitDiff {
		f.AddEnrichment([]models.Block{models.KubernetesDiffBlock{
			Diffs:     resource.Diffs,
			Old:       objAny(change.Old),
			New:       objAny(change.New),
			Name:      subject.Name,
			Namespace: subject.Namespace,
			Kind:      change.Kind,
		}}, models.WithEnrichmentType(models.EnrichmentDiff))
	}
	resource.AddFinding(f)
	return nil
}

func describeOperation(op event.Operation) string {
	switch op {
	case event.OpAdd:
		return "Change"
	case event.OpUpdate:
		return "Change"
	case event.OpDelete:
		return "Deletion"
	default:
		return string(op)
	}
}

// ReportCrashLoopParams configure the report_crash_loop action.
type ReportCrashLoopParams struct {
	PeriodSeconds int `yaml:"rate_limit,omitempty"`
}

// reportCrashLoop emits a crash-loop finding, de-bounced per pod through the
// rate limiter so replayed events do not spam sinks.
func reportCrashLoop(ctx context.Context, rt *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*ReportCrashLoopParams)

	pod, ok := ev.(event.HasPod)
	if !ok {
		return models.NewActionError(models.ErrResourceNotSupported, "report_crash_loop requires a pod event", nil)
	}
	obj := pod.GetPod()
	if obj == nil {
		return models.NewActionError(models.ErrResourceNotFound, "pod is gone", nil)
	}

	key := obj.GetNamespace() + "/" + obj.GetName()
	period := time.Duration(p.PeriodSeconds) * time.Second
	if !rt.Limiter.MarkAndTest(ctx, "report_crash_loop", key, period) {
		return nil
	}

	f := models.NewFinding(fmt.Sprintf("Crash loop detected on pod %s", key))
	f.Severity = models.SeverityHigh
	f.AggregationKey = "CrashLoopBackoff"
	f.Subject = models.Subject{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		Kind:      models.SubjectKindPod,
		Labels:    obj.GetLabels(),
	}
	ev.ExecutionBase().AddFinding(f)
	return nil
}

// LogsEnricherParams configure the logs_enricher action.
type LogsEnricherParams struct {
	ContainerName string `yaml:"container_name,omitempty"`
	Previous      bool   `yaml:"previous,omitempty"`
	TailLines     int64  `yaml:"tail_lines,omitempty"`
}

// logsEnricher attaches the subject pod's logs as a file block.
func logsEnricher(ctx context.Context, rt *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*LogsEnricherParams)

	var name, namespace string
	switch typed := ev.(type) {
	case event.HasPod:
		obj := typed.GetPod()
		if obj == nil {
			return models.NewActionError(models.ErrResourceNotFound, "pod is gone", nil)
		}
		name, namespace = obj.GetName(), obj.GetNamespace()
	case *event.PrometheusKubernetesAlert:
		subject := typed.Subject()
		if subject.Kind != models.SubjectKindPod {
			return models.NewActionError(models.ErrResourceNotSupported, "alert subject is not a pod", nil)
		}
		name, namespace = subject.Name, subject.Namespace
	default:
		return models.NewActionError(models.ErrResourceNotSupported, "logs_enricher requires a pod subject", nil)
	}
	if rt.Kube == nil {
		return models.NewActionError(models.ErrActionUnexpected, "kubernetes client not configured", nil)
	}

	logOpts := &corev1.PodLogOptions{Container: p.ContainerName, Previous: p.Previous}
	if p.TailLines > 0 {
		logOpts.TailLines = &p.TailLines
	}
	stream, err := rt.Kube.CoreV1().Pods(namespace).GetLogs(name, logOpts).Stream(ctx)
	if err != nil {
		return models.NewActionError(models.ErrResourceNotFound,
			fmt.Sprintf("failed to fetch logs for pod %s/%s", namespace, name), err)
	}
	defer stream.Close()

	contents, err := io.ReadAll(stream)
	if err != nil {
		return models.NewActionError(models.ErrActionUnexpected, "failed to read pod logs", err)
	}

	base := ev.ExecutionBase()
	filename := fmt.Sprintf("%s-%s.log", namespace, name)
	if len(contents) == 0 {
		base.AddEnrichment([]models.Block{models.EmptyFileBlock{Filename: filename}},
			models.WithEnrichmentType(models.EnrichmentLogs))
		return nil
	}
	base.AddEnrichment([]models.Block{models.FileBlock{Filename: filename, Contents: contents}},
		models.WithEnrichmentType(models.EnrichmentLogs))
	return nil
}

// AddSilenceParams configure the add_silence_from_prometheus_alert action.
type AddSilenceParams struct {
	LabelNames      []string `yaml:"label_names"`
	DurationSeconds int64    `yaml:"duration,omitempty"`
	Comment         string   `yaml:"comment,omitempty"`
}

// addSilenceFromAlert creates an Alertmanager silence with matchers built
// from the firing alert's label values.
func addSilenceFromAlert(ctx context.Context, rt *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*AddSilenceParams)

	alertEvent, ok := ev.(event.HasAlert)
	if !ok {
		return models.NewActionError(models.ErrResourceNotSupported,
			"add_silence_from_prometheus_alert requires an alert event", nil)
	}
	if rt.Alertmanager == nil {
		return models.NewActionError(models.ErrAlertManagerDiscoveryFailed, "alertmanager is not configured", nil)
	}
	alert := alertEvent.GetAlert()

	matchers := make([]promclient.SilenceMatcher, 0, len(p.LabelNames))
	for _, name := range p.LabelNames {
		value, ok := alert.Labels[name]
		if !ok {
			continue
		}
		matchers = append(matchers, promclient.SilenceMatcher{Name: name, Value: value, IsEqual: true})
	}
	if len(matchers) == 0 {
		return models.NewActionError(models.ErrAddSilenceFailed, "no silence matchers could be built from alert labels", nil)
	}

	comment := p.Comment
	if comment == "" {
		comment = fmt.Sprintf("silenced by kestrel for alert %s", alert.AlertName())
	}
	now := time.Now()
	id, err := rt.Alertmanager.CreateSilence(ctx, promclient.Silence{
		Matchers:  matchers,
		StartsAt:  now,
		EndsAt:    now.Add(time.Duration(p.DurationSeconds) * time.Second),
		CreatedBy: "kestrel",
		Comment:   comment,
	})
	if err != nil {
		return err
	}
	ev.ExecutionBase().AddEnrichment([]models.Block{
		models.MarkdownBlock{Text: fmt.Sprintf("Created silence `%s` for alert `%s`", id, alert.AlertName())},
	})
	return nil
}

// PrometheusEnricherParams configure the prometheus_enricher action.
type PrometheusEnricherParams struct {
	Query string `yaml:"promql_query"`
}

// prometheusEnricher runs a PromQL query and attaches the result.
func prometheusEnricher(ctx context.Context, rt *Runtime, ev event.ExecutionEvent, params any) error {
	p := params.(*PrometheusEnricherParams)
	if p.Query == "" {
		return models.NewActionError(models.ErrIllegalActionParams, "prometheus_enricher requires promql_query", nil)
	}
	if rt.Prometheus == nil {
		return models.NewActionError(models.ErrPrometheusNotFound, "prometheus is not configured", nil)
	}
	result, err := rt.Prometheus.Query(ctx, p.Query, time.Now())
	if err != nil {
		return err
	}
	ev.ExecutionBase().AddEnrichment([]models.Block{
		models.PrometheusBlock{Query: p.Query, Result: result.Value},
	}, models.WithEnrichmentType(models.EnrichmentGraph))
	return nil
}

func objAny(u *unstructured.Unstructured) any {
	if u == nil {
		return nil
	}
	return u.Object
}
