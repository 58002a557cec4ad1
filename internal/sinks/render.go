package sinks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// renderBlocksAsText flattens enrichment blocks into markdown-ish text for
// transports without a native block format. Unsupported variants degrade to a
// short placeholder.
func renderBlocksAsText(blocks []models.Block) string {
	var b strings.Builder
	for _, block := range blocks {
		switch typed := block.(type) {
		case models.MarkdownBlock:
			b.WriteString(typed.Text)
			b.WriteString("\n")
		case models.HeaderBlock:
			fmt.Fprintf(&b, "## %s\n", typed.Text)
		case models.DividerBlock:
			b.WriteString("---\n")
		case models.ListBlock:
			for _, item := range typed.Items {
				fmt.Fprintf(&b, "- %s\n", item)
			}
		case models.TableBlock:
			if len(typed.Headers) > 0 {
				b.WriteString(strings.Join(typed.Headers, " | "))
				b.WriteString("\n")
			}
			for _, row := range typed.Rows {
				b.WriteString(strings.Join(row, " | "))
				b.WriteString("\n")
			}
		case models.JsonBlock:
			if encoded, err := json.MarshalIndent(typed.Value, "", "  "); err == nil {
				fmt.Fprintf(&b, "```%s```\n", encoded)
			}
		case models.KubernetesDiffBlock:
			for _, d := range typed.Diffs {
				fmt.Fprintf(&b, "%s %s: %v -> %v\n", d.Op, d.Path, d.Old, d.New)
			}
		case models.LinksBlock:
			for _, l := range typed.Links {
				fmt.Fprintf(&b, "[%s](%s)\n", l.Text, l.URL)
			}
		case models.FileBlock:
			fmt.Fprintf(&b, "(attachment: %s, %d bytes)\n", typed.Filename, len(typed.Contents))
		case models.EmptyFileBlock:
			fmt.Fprintf(&b, "(attachment %s was empty)\n", typed.Filename)
		case models.EventsBlock:
			for _, row := range typed.Rows {
				b.WriteString(strings.Join(row, " | "))
				b.WriteString("\n")
			}
		case models.PrometheusBlock:
			fmt.Fprintf(&b, "query: `%s`\n", typed.Query)
		default:
			fmt.Fprintf(&b, "(unrenderable block: %s)\n", block.BlockType())
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// findingText renders the finding headline plus enrichments as plain text.
func findingText(f *models.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", f.Severity.Emoji(), f.Title)
	if f.Description != "" {
		b.WriteString("\n")
		b.WriteString(f.Description)
	}
	if f.Subject.Name != "" {
		fmt.Fprintf(&b, "\n%s/%s", f.Subject.Namespace, f.Subject.Name)
	}
	for _, e := range f.Enrichments {
		text := renderBlocksAsText(e.Blocks)
		if text == "" {
			continue
		}
		b.WriteString("\n")
		if e.Title != "" {
			fmt.Fprintf(&b, "*%s*\n", e.Title)
		}
		b.WriteString(text)
	}
	return b.String()
}
