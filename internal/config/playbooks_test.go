package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelhq/kestrel/internal/trigger"
)

func writePlaybooks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbooks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validDocument = `
sinksConfig:
  - slack_sink:
      name: main_slack
      api_key: xoxb-test
      slack_channel: alerts
      default: true
  - webhook_sink:
      name: hooks
      url: https://example.com/hook
customPlaybooks:
  - triggers:
      - on_prometheus_alert:
          alert_name: KubePodCrashLooping
    actions:
      - create_finding:
          title: crash loop
    sinks:
      - main_slack
`

func TestLoadPlaybooksDocument(t *testing.T) {
	t.Run("valid document loads", func(t *testing.T) {
		doc, err := LoadPlaybooksDocument(writePlaybooks(t, validDocument))
		if err != nil {
			t.Fatal(err)
		}
		if len(doc.SinksConfig) != 2 || len(doc.CustomPlaybooks) != 1 {
			t.Fatalf("unexpected document %+v", doc)
		}
		if doc.SinksConfig[0].Type != "slack_sink" || doc.SinksConfig[0].Config.Name != "main_slack" {
			t.Fatalf("sink definition not decoded: %+v", doc.SinksConfig[0])
		}
	})

	t.Run("unknown top-level key fails", func(t *testing.T) {
		_, err := LoadPlaybooksDocument(writePlaybooks(t, validDocument+"\nunexpectedKey: true\n"))
		if err == nil {
			t.Fatal("unknown key must fail the load")
		}
	})

	t.Run("duplicate sink names fail", func(t *testing.T) {
		_, err := LoadPlaybooksDocument(writePlaybooks(t, `
sinksConfig:
  - slack_sink:
      name: dup
      api_key: k
      slack_channel: c
  - webhook_sink:
      name: dup
      url: https://example.com
`))
		if err == nil {
			t.Fatal("duplicate sink names must fail the load")
		}
	})

	t.Run("unknown sink reference fails", func(t *testing.T) {
		_, err := LoadPlaybooksDocument(writePlaybooks(t, `
customPlaybooks:
  - triggers:
      - manual_action: {}
    actions:
      - create_finding: {}
    sinks:
      - nonexistent
`))
		if err == nil {
			t.Fatal("reference to an undeclared sink must fail the load")
		}
	})

	t.Run("playbook without triggers fails", func(t *testing.T) {
		_, err := LoadPlaybooksDocument(writePlaybooks(t, `
customPlaybooks:
  - triggers: []
    actions:
      - create_finding: {}
`))
		if err == nil {
			t.Fatal("a playbook needs at least one trigger")
		}
	})

	t.Run("invalid sink scope fails", func(t *testing.T) {
		_, err := LoadPlaybooksDocument(writePlaybooks(t, `
sinksConfig:
  - slack_sink:
      name: scoped
      api_key: k
      slack_channel: c
      scope:
        include:
          - namespace: "("
`))
		if err == nil {
			t.Fatal("invalid scope regex must fail the load")
		}
	})
}

func mustCompile(t *testing.T, document string) *CompileResult {
	t.Helper()
	doc, err := LoadPlaybooksDocument(writePlaybooks(t, document))
	if err != nil {
		t.Fatal(err)
	}
	result, err := CompilePlaybooks(doc, nil, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestCompilePlaybooks(t *testing.T) {
	t.Run("resource trigger names map to kind and operation", func(t *testing.T) {
		result := mustCompile(t, `
customPlaybooks:
  - triggers:
      - on_deployment_update: {}
    actions:
      - create_finding: {}
`)
		pb := result.Playbooks[0]
		if len(pb.Triggers) != 1 {
			t.Fatalf("got %d triggers, want 1", len(pb.Triggers))
		}
		k8s, ok := pb.Triggers[0].(*trigger.K8sTrigger)
		if !ok {
			t.Fatalf("unexpected trigger type %T", pb.Triggers[0])
		}
		if k8s.Kind != "deployment" {
			t.Fatalf("kind = %q", k8s.Kind)
		}
	})

	t.Run("any resource expands per kind in fixed order", func(t *testing.T) {
		result := mustCompile(t, `
customPlaybooks:
  - triggers:
      - on_kubernetes_any_resource_create: {}
    actions:
      - create_finding: {}
`)
		pb := result.Playbooks[0]
		if len(pb.Triggers) != len(k8sKinds) {
			t.Fatalf("got %d triggers, want %d", len(pb.Triggers), len(k8sKinds))
		}
		for i, tr := range pb.Triggers {
			k8s := tr.(*trigger.K8sTrigger)
			if k8s.Kind != k8sKinds[i] {
				t.Fatalf("trigger %d watches %q, want %q", i, k8s.Kind, k8sKinds[i])
			}
		}
	})

	t.Run("on_schedule produces a job to arm", func(t *testing.T) {
		result := mustCompile(t, `
customPlaybooks:
  - triggers:
      - on_schedule:
          fixed_delay_repeat: 300
    actions:
      - create_finding: {}
`)
		if len(result.ScheduledJobs) != 1 {
			t.Fatalf("got %d jobs, want 1", len(result.ScheduledJobs))
		}
		job := result.ScheduledJobs[0]
		if job.TaskID != "playbook-0-trigger-0" {
			t.Fatalf("task id = %q", job.TaskID)
		}
		if job.Params.FixedDelaySeconds != 300 {
			t.Fatalf("params = %+v", job.Params)
		}

		sched, ok := result.Playbooks[0].Triggers[0].(*trigger.ScheduledTrigger)
		if !ok || sched.TaskID != job.TaskID {
			t.Fatal("scheduled trigger must carry the armed task id")
		}
	})

	t.Run("on_schedule with two modes fails", func(t *testing.T) {
		doc, err := LoadPlaybooksDocument(writePlaybooks(t, `
customPlaybooks:
  - triggers:
      - on_schedule:
          fixed_delay_repeat: 300
          cron: "0 * * * *"
    actions:
      - create_finding: {}
`))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := CompilePlaybooks(doc, nil, slog.Default()); err == nil {
			t.Fatal("two recurrence modes must fail the compile")
		}
	})

	t.Run("manual_action compiles with its name filter", func(t *testing.T) {
		result := mustCompile(t, `
customPlaybooks:
  - triggers:
      - manual_action:
          name: restart_pods
    actions:
      - create_finding: {}
`)
		manual, ok := result.Playbooks[0].Triggers[0].(*trigger.ManualTrigger)
		if !ok || manual.Name != "restart_pods" {
			t.Fatalf("unexpected trigger %+v", result.Playbooks[0].Triggers[0])
		}
	})

	t.Run("helm presets default their statuses and set the monitor flag", func(t *testing.T) {
		result := mustCompile(t, `
customPlaybooks:
  - triggers:
      - on_helm_release_fail: {}
    actions:
      - create_finding: {}
`)
		if !result.NeedsHelmMonitor {
			t.Fatal("helm trigger must request the release monitor")
		}
		if _, ok := result.Playbooks[0].Triggers[0].(*trigger.HelmReleaseTrigger); !ok {
			t.Fatalf("unexpected trigger type %T", result.Playbooks[0].Triggers[0])
		}
	})

	t.Run("non-helm document leaves the monitor off", func(t *testing.T) {
		if mustCompile(t, validDocument).NeedsHelmMonitor {
			t.Fatal("monitor flag must stay off without helm triggers")
		}
	})

	t.Run("unknown trigger name fails the compile", func(t *testing.T) {
		doc, err := LoadPlaybooksDocument(writePlaybooks(t, `
customPlaybooks:
  - triggers:
      - on_flux_capacitor_overload: {}
    actions:
      - create_finding: {}
`))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := CompilePlaybooks(doc, nil, slog.Default()); err == nil {
			t.Fatal("unknown trigger must fail the compile")
		}
	})
}

func TestParseK8sTriggerName(t *testing.T) {
	cases := []struct {
		name string
		kind string
		op   trigger.K8sOperation
		ok   bool
	}{
		{"on_pod_create", "pod", trigger.K8sOpCreate, true},
		{"on_deployment_update", "deployment", trigger.K8sOpUpdate, true},
		{"on_horizontalpodautoscaler_all_changes", "horizontalpodautoscaler", trigger.K8sOpAllChanges, true},
		{"on_kubernetes_any_resource_delete", "*", trigger.K8sOpDelete, true},
		{"on_pod_explode", "", "", false},
		{"on_unknownkind_create", "", "", false},
		{"pod_create", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, op, ok := parseK8sTriggerName(tc.name)
			if ok != tc.ok || kind != tc.kind || op != tc.op {
				t.Fatalf("got (%q, %q, %v), want (%q, %q, %v)", kind, op, ok, tc.kind, tc.op, tc.ok)
			}
		})
	}
}
