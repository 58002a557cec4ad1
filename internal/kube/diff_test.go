package kube

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kestrelhq/kestrel/pkg/models"
)

func deployment(replicas int64, image string, resourceVersion string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"metadata": map[string]any{
			"name":            "api",
			"resourceVersion": resourceVersion,
		},
		"spec": map[string]any{
			"replicas": replicas,
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "api", "image": image},
					},
				},
			},
		},
		"status": map[string]any{"readyReplicas": replicas},
	}}
}

func TestDiff(t *testing.T) {
	t.Run("changed scalar", func(t *testing.T) {
		old := deployment(3, "api:v1", "100")
		new := deployment(3, "api:v2", "101")

		diffs := Diff(old, new)

		var found bool
		for _, d := range diffs {
			if d.Path == "spec.template.spec.containers[0].image" {
				found = true
				if d.Op != models.DiffOpChanged || d.Old != "api:v1" || d.New != "api:v2" {
					t.Fatalf("unexpected diff %+v", d)
				}
			}
		}
		if !found {
			t.Fatalf("image change not detected in %+v", diffs)
		}
	})

	t.Run("added and removed keys", func(t *testing.T) {
		old := &unstructured.Unstructured{Object: map[string]any{
			"spec": map[string]any{"a": "1"},
		}}
		new := &unstructured.Unstructured{Object: map[string]any{
			"spec": map[string]any{"b": "2"},
		}}

		diffs := Diff(old, new)
		if len(diffs) != 2 {
			t.Fatalf("got %d diffs, want 2: %+v", len(diffs), diffs)
		}
		// Output is sorted by path.
		if diffs[0].Path != "spec.a" || diffs[0].Op != models.DiffOpRemoved {
			t.Fatalf("unexpected first diff %+v", diffs[0])
		}
		if diffs[1].Path != "spec.b" || diffs[1].Op != models.DiffOpAdded {
			t.Fatalf("unexpected second diff %+v", diffs[1])
		}
	})

	t.Run("list growth", func(t *testing.T) {
		old := &unstructured.Unstructured{Object: map[string]any{
			"spec": map[string]any{"items": []any{"a"}},
		}}
		new := &unstructured.Unstructured{Object: map[string]any{
			"spec": map[string]any{"items": []any{"a", "b"}},
		}}

		diffs := Diff(old, new)
		if len(diffs) != 1 || diffs[0].Path != "spec.items[1]" || diffs[0].Op != models.DiffOpAdded {
			t.Fatalf("unexpected diffs %+v", diffs)
		}
	})

	t.Run("identical objects", func(t *testing.T) {
		obj := deployment(3, "api:v1", "100")
		if diffs := Diff(obj, obj.DeepCopy()); len(diffs) != 0 {
			t.Fatalf("expected no diffs, got %+v", diffs)
		}
	})
}

func TestFilterDiffs(t *testing.T) {
	old := deployment(3, "api:v1", "100")
	new := deployment(5, "api:v2", "101")
	diffs := Diff(old, new)

	t.Run("default ignores drop noise", func(t *testing.T) {
		kept := FilterDiffs(diffs, nil, nil)
		for _, d := range kept {
			switch {
			case d.Path == "spec.replicas",
				d.Path == "metadata.resourceVersion",
				d.Path == "status.readyReplicas":
				t.Fatalf("ignored path survived filtering: %s", d.Path)
			}
		}
	})

	t.Run("include keeps only matching paths", func(t *testing.T) {
		kept := FilterDiffs(diffs, []string{"spec.template.spec.containers[*].image"}, nil)
		if len(kept) != 1 {
			t.Fatalf("got %d diffs, want 1: %+v", len(kept), kept)
		}
		if kept[0].Path != "spec.template.spec.containers[0].image" {
			t.Fatalf("unexpected path %s", kept[0].Path)
		}
	})

	t.Run("replicas only update filters to nothing", func(t *testing.T) {
		replicaDiffs := Diff(deployment(3, "api:v1", "100"), deployment(5, "api:v1", "101"))
		kept := FilterDiffs(replicaDiffs, []string{"spec.template.spec.containers[*].image"}, []string{"spec.replicas"})
		if len(kept) != 0 {
			t.Fatalf("expected no diffs, got %+v", kept)
		}
	})

	t.Run("extra ignores apply on top of defaults", func(t *testing.T) {
		kept := FilterDiffs(diffs, nil, []string{"spec.template"})
		for _, d := range kept {
			if d.Path == "spec.template.spec.containers[0].image" {
				t.Fatal("extra ignore did not apply")
			}
		}
	})

	t.Run("ignore prefix respects path boundaries", func(t *testing.T) {
		boundary := []models.ObjectDiff{
			{Path: "spec.replicasets", Op: models.DiffOpChanged},
		}
		kept := FilterDiffs(boundary, nil, nil)
		if len(kept) != 1 {
			t.Fatal("spec.replicasets must not be dropped by the spec.replicas ignore")
		}
	})
}
