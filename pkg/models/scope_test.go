package models

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func testFinding(namespace, name string, labels map[string]string) *Finding {
	f := NewFinding("test")
	f.Subject.Namespace = namespace
	f.Subject.Name = name
	f.Subject.Labels = labels
	return f
}

func TestScopeMatches(t *testing.T) {
	t.Run("empty scope matches everything", func(t *testing.T) {
		var scope ScopeParams
		if !scope.Matches(testFinding("prod", "api", nil)) {
			t.Fatal("empty scope should match")
		}
	})

	t.Run("include is OR across matchers", func(t *testing.T) {
		scope := ScopeParams{
			Include: []ScopeMatcher{
				{"namespace": MatchExpr{"prod-.*"}},
				{"namespace": MatchExpr{"staging"}},
			},
		}
		for _, ns := range []string{"prod-eu", "staging"} {
			if !scope.Matches(testFinding(ns, "api", nil)) {
				t.Fatalf("namespace %q should match", ns)
			}
		}
		if scope.Matches(testFinding("dev", "api", nil)) {
			t.Fatal("dev should not match")
		}
	})

	t.Run("matcher attributes are AND", func(t *testing.T) {
		scope := ScopeParams{
			Include: []ScopeMatcher{
				{"namespace": MatchExpr{"prod"}, "name": MatchExpr{"api-.*"}},
			},
		}
		if !scope.Matches(testFinding("prod", "api-gateway", nil)) {
			t.Fatal("both attributes match, matcher should fire")
		}
		if scope.Matches(testFinding("prod", "worker", nil)) {
			t.Fatal("name mismatch should fail the matcher")
		}
	})

	t.Run("exclude wins over include", func(t *testing.T) {
		scope := ScopeParams{
			Include: []ScopeMatcher{{"namespace": MatchExpr{".*"}}},
			Exclude: []ScopeMatcher{{"namespace": MatchExpr{"kube-system"}}},
		}
		if scope.Matches(testFinding("kube-system", "api", nil)) {
			t.Fatal("excluded namespace should not match")
		}
		if !scope.Matches(testFinding("prod", "api", nil)) {
			t.Fatal("non-excluded namespace should match")
		}
	})

	t.Run("patterns are anchored full matches", func(t *testing.T) {
		scope := ScopeParams{
			Include: []ScopeMatcher{{"namespace": MatchExpr{"prod"}}},
		}
		if scope.Matches(testFinding("prod-eu", "api", nil)) {
			t.Fatal("substring match should not count as a full match")
		}
	})

	t.Run("unknown attribute fails the matcher and warns", func(t *testing.T) {
		var buf bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
		defer slog.SetDefault(prev)

		scope := ScopeParams{
			Include: []ScopeMatcher{{"flavor": MatchExpr{".*"}}},
		}
		if scope.Matches(testFinding("prod", "api", nil)) {
			t.Fatal("unknown attribute should never match")
		}
		if !strings.Contains(buf.String(), "unknown scope attribute") {
			t.Fatalf("expected a warning about the unknown attribute, log: %q", buf.String())
		}
	})

	t.Run("namespace_labels expression", func(t *testing.T) {
		scope := ScopeParams{
			Include: []ScopeMatcher{{"namespace_labels": MatchExpr{"team=infra"}}},
		}
		f := testFinding("monitoring", "api", nil)
		if scope.Matches(f) {
			t.Fatal("unresolved namespace labels should not match")
		}
		f.Subject.NamespaceLabels = map[string]string{"team": "infra"}
		if !scope.Matches(f) {
			t.Fatal("resolved namespace labels should match")
		}
	})

	t.Run("labels expression", func(t *testing.T) {
		scope := ScopeParams{
			Include: []ScopeMatcher{{"labels": MatchExpr{"team=payments,env!=dev"}}},
		}
		if !scope.Matches(testFinding("prod", "api", map[string]string{"team": "payments", "env": "prod"})) {
			t.Fatal("labels expression should match")
		}
		if scope.Matches(testFinding("prod", "api", map[string]string{"team": "payments", "env": "dev"})) {
			t.Fatal("env=dev violates env!=dev")
		}
		if scope.Matches(testFinding("prod", "api", map[string]string{"env": "prod"})) {
			t.Fatal("missing team label should not match")
		}
	})
}

func TestScopeValidate(t *testing.T) {
	t.Run("unknown attribute", func(t *testing.T) {
		scope := ScopeParams{Include: []ScopeMatcher{{"flavor": MatchExpr{"x"}}}}
		if err := scope.Validate(); err == nil {
			t.Fatal("expected validation error for unknown attribute")
		}
	})

	t.Run("bad regex", func(t *testing.T) {
		scope := ScopeParams{Include: []ScopeMatcher{{"namespace": MatchExpr{"("}}}}
		if err := scope.Validate(); err == nil {
			t.Fatal("expected validation error for unparsable pattern")
		}
	})
}

func TestLabelsMatch(t *testing.T) {
	labels := map[string]string{"app": "api", "tier": "backend"}

	cases := []struct {
		expr string
		want bool
	}{
		{"app=api", true},
		{"app=api,tier=backend", true},
		{"app=api,tier!=frontend", true},
		{"app=web", false},
		{"missing=x", false},
		{"app=a.*", true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := LabelsMatch(tc.expr, labels); got != tc.want {
				t.Fatalf("LabelsMatch(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestMatchExprUnmarshalScalarOrList(t *testing.T) {
	var single struct {
		Namespace MatchExpr `yaml:"namespace"`
	}
	if err := yaml.Unmarshal([]byte(`namespace: prod`), &single); err != nil {
		t.Fatal(err)
	}
	if len(single.Namespace) != 1 || single.Namespace[0] != "prod" {
		t.Fatalf("scalar form: got %v", single.Namespace)
	}

	var list struct {
		Namespace MatchExpr `yaml:"namespace"`
	}
	if err := yaml.Unmarshal([]byte(`namespace: [prod, staging]`), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Namespace) != 2 {
		t.Fatalf("list form: got %v", list.Namespace)
	}
}
