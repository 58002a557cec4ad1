package models

import (
	"strings"
	"testing"
)

func TestNewFinding(t *testing.T) {
	f := NewFinding("oom kill")

	if f.Fingerprint == "" {
		t.Fatal("expected an auto-assigned fingerprint")
	}
	if f.Severity != SeverityInfo {
		t.Fatalf("default severity = %s, want INFO", f.Severity)
	}
	if f.Status != StatusFiring {
		t.Fatalf("default status = %s, want firing", f.Status)
	}

	other := NewFinding("oom kill")
	if other.Fingerprint == f.Fingerprint {
		t.Fatal("two findings should not share an auto fingerprint")
	}
}

func TestAddEnrichmentIsAppendOnly(t *testing.T) {
	f := NewFinding("test")

	f.AddEnrichment([]Block{MarkdownBlock{Text: "first"}})
	f.AddEnrichment([]Block{MarkdownBlock{Text: "second"}}, WithEnrichmentTitle("Logs"))

	if len(f.Enrichments) != 2 {
		t.Fatalf("enrichments = %d, want 2", len(f.Enrichments))
	}
	first := f.Enrichments[0].Blocks[0].(MarkdownBlock)
	if first.Text != "first" {
		t.Fatalf("earlier enrichment mutated: %q", first.Text)
	}
	if f.Enrichments[1].Title != "Logs" {
		t.Fatalf("enrichment title = %q", f.Enrichments[1].Title)
	}

	f.AddEnrichment(nil)
	if len(f.Enrichments) != 2 {
		t.Fatal("empty block list should not add an enrichment")
	}
}

func TestMarkResolved(t *testing.T) {
	f := NewFinding("pod crash")
	fingerprint := f.Fingerprint

	f.MarkResolved()

	if !f.Resolved() {
		t.Fatal("finding should report resolved")
	}
	if !strings.HasPrefix(f.Title, ResolvedTitlePrefix) {
		t.Fatalf("title = %q, want %q prefix", f.Title, ResolvedTitlePrefix)
	}
	if f.Fingerprint != fingerprint {
		t.Fatal("fingerprint must stay stable across resolution")
	}
	if f.EndsAt == nil {
		t.Fatal("resolution should stamp ends_at")
	}

	// Resolving twice must not stack the prefix.
	title := f.Title
	f.MarkResolved()
	if f.Title != title {
		t.Fatalf("double resolve changed title to %q", f.Title)
	}
}

func TestSilenceURL(t *testing.T) {
	f := NewFinding("alert")
	f.Fingerprint = "abc123"
	f.Subject.Labels = map[string]string{"b": "2", "a": "1"}

	url1 := f.SilenceURL("https://api.example.com/", "acct", "prod", "secret")
	url2 := f.SilenceURL("https://api.example.com", "acct", "prod", "secret")
	if url1 != url2 {
		t.Fatal("trailing slash should not change the URL")
	}
	if !strings.Contains(url1, "fingerprint=abc123") {
		t.Fatalf("url missing fingerprint: %s", url1)
	}

	other := f.SilenceURL("https://api.example.com", "acct", "prod", "different-key")
	if other == url1 {
		t.Fatal("different signing keys must produce different signatures")
	}
}
