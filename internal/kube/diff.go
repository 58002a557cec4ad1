// Package kube owns the Kubernetes-facing services: the change watcher, the
// structural object differ and cluster provider discovery.
package kube

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// DefaultIgnoredPaths are diff path prefixes filtered out before change
// triggers are evaluated. They churn on nearly every write and carry no
// user-visible meaning.
var DefaultIgnoredPaths = []string{
	"status",
	"metadata.generation",
	"metadata.resourceVersion",
	"metadata.managedFields",
	"spec.replicas",
}

// Diff computes the path-level structural differences between two object
// versions. Paths are dotted, with list indices in brackets
// ("spec.template.spec.containers[0].image").
func Diff(old, new *unstructured.Unstructured) []models.ObjectDiff {
	var oldMap, newMap map[string]any
	if old != nil {
		oldMap = old.Object
	}
	if new != nil {
		newMap = new.Object
	}
	var diffs []models.ObjectDiff
	diffValue("", oldMap, newMap, &diffs)
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
	return diffs
}

func diffValue(path string, old, new any, out *[]models.ObjectDiff) {
	switch {
	case old == nil && new == nil:
		return
	case old == nil:
		*out = append(*out, models.ObjectDiff{Path: path, Op: models.DiffOpAdded, New: new})
		return
	case new == nil:
		*out = append(*out, models.ObjectDiff{Path: path, Op: models.DiffOpRemoved, Old: old})
		return
	}

	oldMap, oldIsMap := old.(map[string]any)
	newMap, newIsMap := new.(map[string]any)
	if oldIsMap && newIsMap {
		diffMaps(path, oldMap, newMap, out)
		return
	}

	oldList, oldIsList := old.([]any)
	newList, newIsList := new.([]any)
	if oldIsList && newIsList {
		diffLists(path, oldList, newList, out)
		return
	}

	if !reflect.DeepEqual(old, new) {
		*out = append(*out, models.ObjectDiff{Path: path, Op: models.DiffOpChanged, Old: old, New: new})
	}
}

func diffMaps(path string, old, new map[string]any, out *[]models.ObjectDiff) {
	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}
	for k := range keys {
		child := k
		if path != "" {
			child = path + "." + k
		}
		oldVal, oldOK := old[k]
		newVal, newOK := new[k]
		switch {
		case !oldOK:
			*out = append(*out, models.ObjectDiff{Path: child, Op: models.DiffOpAdded, New: newVal})
		case !newOK:
			*out = append(*out, models.ObjectDiff{Path: child, Op: models.DiffOpRemoved, Old: oldVal})
		default:
			diffValue(child, oldVal, newVal, out)
		}
	}
}

func diffLists(path string, old, new []any, out *[]models.ObjectDiff) {
	max := len(old)
	if len(new) > max {
		max = len(new)
	}
	for i := 0; i < max; i++ {
		child := fmt.Sprintf("%s[%d]", path, i)
		switch {
		case i >= len(old):
			*out = append(*out, models.ObjectDiff{Path: child, Op: models.DiffOpAdded, New: new[i]})
		case i >= len(new):
			*out = append(*out, models.ObjectDiff{Path: child, Op: models.DiffOpRemoved, Old: old[i]})
		default:
			diffValue(child, old[i], new[i], out)
		}
	}
}

// FilterDiffs drops ignored paths and, when includes are present, keeps only
// diffs whose path substring-matches at least one include. The ignore list is
// applied on top of DefaultIgnoredPaths.
func FilterDiffs(diffs []models.ObjectDiff, includes, ignores []string) []models.ObjectDiff {
	ignored := make([]string, 0, len(DefaultIgnoredPaths)+len(ignores))
	ignored = append(ignored, DefaultIgnoredPaths...)
	ignored = append(ignored, ignores...)

	var kept []models.ObjectDiff
outer:
	for _, d := range diffs {
		normalized := normalizePath(d.Path)
		for _, ig := range ignored {
			if pathHasPrefix(normalized, ig) {
				continue outer
			}
		}
		if len(includes) > 0 {
			matched := false
			for _, inc := range includes {
				if strings.Contains(normalized, normalizePath(inc)) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		kept = append(kept, d)
	}
	return kept
}

// normalizePath strips list indices so include patterns may use the "[*]"
// wildcard notation or omit indices altogether.
func normalizePath(path string) string {
	var b strings.Builder
	skip := false
	for _, r := range path {
		switch {
		case r == '[':
			skip = true
		case r == ']':
			skip = false
		case !skip:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func pathHasPrefix(path, prefix string) bool {
	prefix = normalizePath(prefix)
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '.'
}
