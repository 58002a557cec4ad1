package template

import "testing"

func TestRenderTarget(t *testing.T) {
	bindings := Bindings{
		ClusterName: "prod-eu",
		Labels: map[string]string{
			"team":                   "payments",
			"app.kubernetes.io/name": "api",
		},
		Annotations: map[string]string{"owner": "sre"},
	}

	cases := []struct {
		name string
		tmpl string
		want string
	}{
		{"empty template falls back", "", "#default"},
		{"short form label", "$labels.team", "payments"},
		{"cluster name", "alerts-$cluster_name", "alerts-prod-eu"},
		{"brace form with dots", "${labels.app.kubernetes.io/name}", "api"},
		{"annotation lookup", "$annotations.owner", "sre"},
		{"unresolved collapses to default", "$labels.missing", "#default"},
		{"partial unresolved collapses whole template", "x-$labels.team-$labels.missing", "#default"},
		{"unknown root falls back", "$pod_name", "#default"},
		{"mixed literal and placeholder", "#alerts-$labels.team", "#alerts-payments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RenderTarget(tc.tmpl, "#default", bindings)
			if got != tc.want {
				t.Fatalf("RenderTarget(%q) = %q, want %q", tc.tmpl, got, tc.want)
			}
		})
	}
}

func TestMapLookupNormalization(t *testing.T) {
	labels := map[string]string{"app_kubernetes_io_name": "api"}

	// A dotted template key reaches a label stored with underscores.
	got := RenderTarget("${labels.app.kubernetes.io-name}", "fallback", Bindings{Labels: labels})
	if got != "api" {
		t.Fatalf("normalized lookup = %q, want api", got)
	}
}
