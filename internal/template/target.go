// Package template renders per-sink delivery targets (Slack channels, Teams
// webhook URLs, mail recipients) from finding metadata.
package template

import (
	"regexp"
	"strings"
)

// Placeholders come in two forms: `$name` shorthand and `${name}` braces for
// keys containing '.' or '/'. Recognized roots are cluster_name, labels.<key>
// and annotations.<key>.
var (
	bracePattern = regexp.MustCompile(`\$\{([^}]+)\}`)
	shortPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_.]*)`)
)

// Bindings are the values available to target templates.
type Bindings struct {
	ClusterName string
	Labels      map[string]string
	Annotations map[string]string
}

// RenderTarget substitutes placeholders in the template. If every placeholder
// resolves, the rendered string is returned; any unresolved placeholder
// collapses the whole template to defaultTarget. An empty template also
// yields defaultTarget.
func RenderTarget(tmpl, defaultTarget string, b Bindings) string {
	if strings.TrimSpace(tmpl) == "" {
		return defaultTarget
	}

	unresolved := false
	resolve := func(key string) string {
		value, ok := lookup(key, b)
		if !ok {
			unresolved = true
			return ""
		}
		return value
	}

	out := bracePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := bracePattern.FindStringSubmatch(match)
		return resolve(sub[1])
	})
	out = shortPattern.ReplaceAllStringFunc(out, func(match string) string {
		sub := shortPattern.FindStringSubmatch(match)
		return resolve(sub[1])
	})

	if unresolved || strings.TrimSpace(out) == "" {
		return defaultTarget
	}
	return out
}

func lookup(key string, b Bindings) (string, bool) {
	if key == "cluster_name" {
		return b.ClusterName, b.ClusterName != ""
	}
	if rest, ok := strings.CutPrefix(key, "labels."); ok {
		return mapLookup(b.Labels, rest)
	}
	if rest, ok := strings.CutPrefix(key, "annotations."); ok {
		return mapLookup(b.Annotations, rest)
	}
	return "", false
}

// mapLookup tries the raw key, then the normalized form where '.', '/' and
// '-' collapse to '_' on both sides.
func mapLookup(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	want := normalizeKey(key)
	for k, v := range m {
		if normalizeKey(k) == want {
			return v, true
		}
	}
	return "", false
}

var keyNormalizer = strings.NewReplacer(".", "_", "/", "_", "-", "_")

func normalizeKey(key string) string {
	return keyNormalizer.Replace(key)
}
