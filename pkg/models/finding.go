package models

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity ranks how urgent a finding is. Renderers map each level to a
// canonical color and emoji.
type Severity string

const (
	SeverityDebug  Severity = "DEBUG"
	SeverityInfo   Severity = "INFO"
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Color returns the canonical hex color for the severity.
func (s Severity) Color() string {
	switch s {
	case SeverityHigh:
		return "#E32F0D"
	case SeverityMedium:
		return "#F5A523"
	case SeverityLow:
		return "#FFDC06"
	case SeverityInfo:
		return "#05AA44"
	default:
		return "#AAAAAA"
	}
}

// Emoji returns the canonical emoji for the severity.
func (s Severity) Emoji() string {
	switch s {
	case SeverityHigh:
		return "🔴"
	case SeverityMedium:
		return "🟠"
	case SeverityLow:
		return "🟡"
	case SeverityInfo:
		return "🟢"
	default:
		return "⚪"
	}
}

// FindingSource identifies the ingress surface that produced a finding.
type FindingSource string

const (
	SourceKubernetesAPIServer FindingSource = "KUBERNETES_API_SERVER"
	SourcePrometheus          FindingSource = "PROMETHEUS"
	SourceManual              FindingSource = "MANUAL"
	SourceCallback            FindingSource = "CALLBACK"
	SourceHelm                FindingSource = "HELM"
	SourceNone                FindingSource = "NONE"
)

// FindingType classifies the nature of a finding.
type FindingType string

const (
	TypeIssue      FindingType = "ISSUE"
	TypeConfChange FindingType = "CONF_CHANGE"
	TypeHealth     FindingType = "HEALTH"
	TypeReport     FindingType = "REPORT"
	TypeAIAnalysis FindingType = "AI_ANALYSIS"
)

// FindingStatus captures the firing/resolved lifecycle of a recurring finding.
type FindingStatus string

const (
	StatusFiring   FindingStatus = "firing"
	StatusResolved FindingStatus = "resolved"
)

// ResolvedTitlePrefix marks the resolved variant of a recurring finding.
const ResolvedTitlePrefix = "[RESOLVED] "

// SubjectKind enumerates the Kubernetes kinds a finding subject may refer to.
type SubjectKind string

const (
	SubjectKindNone        SubjectKind = ""
	SubjectKindPod         SubjectKind = "pod"
	SubjectKindNode        SubjectKind = "node"
	SubjectKindDeployment  SubjectKind = "deployment"
	SubjectKindDaemonSet   SubjectKind = "daemonset"
	SubjectKindStatefulSet SubjectKind = "statefulset"
	SubjectKindJob         SubjectKind = "job"
	SubjectKindHPA         SubjectKind = "hpa"
)

// Subject identifies the cluster object a finding is about.
type Subject struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace,omitempty"`
	Kind        SubjectKind       `json:"kind,omitempty"`
	Node        string            `json:"node,omitempty"`
	Container   string            `json:"container,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// NamespaceLabels are the labels of the subject's namespace, filled in
	// by the sink router before scope matching.
	NamespaceLabels map[string]string `json:"namespace_labels,omitempty"`
}

// Enrichment is an ordered list of rendering blocks attached to a finding.
type Enrichment struct {
	Blocks      []Block           `json:"blocks"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Type        EnrichmentType    `json:"type,omitempty"`
	Title       string            `json:"title,omitempty"`
}

// EnrichmentType hints sinks at how an enrichment should be rendered.
type EnrichmentType string

const (
	EnrichmentGraph         EnrichmentType = "graph"
	EnrichmentAlertLabels   EnrichmentType = "alert_labels"
	EnrichmentDiff          EnrichmentType = "diff"
	EnrichmentNodeInfo      EnrichmentType = "node_info"
	EnrichmentContainerInfo EnrichmentType = "container_info"
	EnrichmentLogs          EnrichmentType = "text_file"
	EnrichmentCrashInfo     EnrichmentType = "crash_info"
)

// Finding is the structured unit of notification produced by actions and
// consumed by sinks. Fingerprint is the only identifier sinks may use for
// deduplication; AggregationKey is a coarse grouping bucket, never a dedup
// key.
type Finding struct {
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Severity       Severity          `json:"severity"`
	Source         FindingSource     `json:"source"`
	Type           FindingType       `json:"type"`
	AggregationKey string            `json:"aggregation_key"`
	Fingerprint    string            `json:"fingerprint"`
	Status         FindingStatus     `json:"status,omitempty"`
	Subject        Subject           `json:"subject"`
	Enrichments    []Enrichment      `json:"enrichments,omitempty"`
	Links          []Link            `json:"links,omitempty"`
	VideoLinks     []Link            `json:"video_links,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	AddSilenceURL  bool              `json:"add_silence_url,omitempty"`
	Failure        bool              `json:"failure,omitempty"`
	StartsAt       time.Time         `json:"starts_at,omitempty"`
	EndsAt         *time.Time        `json:"ends_at,omitempty"`
}

// Link is a titled URL attached to a finding.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// NewFinding constructs a finding with sane defaults. A random fingerprint is
// assigned when none is supplied so sinks always have a dedup identity.
func NewFinding(title string) *Finding {
	return &Finding{
		Title:       title,
		Severity:    SeverityInfo,
		Source:      SourceNone,
		Type:        TypeIssue,
		Fingerprint: uuid.NewString(),
		Status:      StatusFiring,
		StartsAt:    time.Now(),
	}
}

// AddEnrichment appends blocks as a new enrichment. Earlier enrichments are
// never mutated; the list is append-only within a playbook run.
func (f *Finding) AddEnrichment(blocks []Block, opts ...EnrichmentOption) {
	if len(blocks) == 0 {
		return
	}
	e := Enrichment{Blocks: blocks}
	for _, opt := range opts {
		opt(&e)
	}
	f.Enrichments = append(f.Enrichments, e)
}

// EnrichmentOption customizes an enrichment added via AddEnrichment.
type EnrichmentOption func(*Enrichment)

// WithEnrichmentType sets the enrichment rendering hint.
func WithEnrichmentType(t EnrichmentType) EnrichmentOption {
	return func(e *Enrichment) { e.Type = t }
}

// WithEnrichmentTitle sets the enrichment title.
func WithEnrichmentTitle(title string) EnrichmentOption {
	return func(e *Enrichment) { e.Title = title }
}

// WithEnrichmentAnnotations attaches annotations to the enrichment.
func WithEnrichmentAnnotations(ann map[string]string) EnrichmentOption {
	return func(e *Enrichment) { e.Annotations = ann }
}

// Resolved reports whether the finding represents a resolution of a prior
// firing instance.
func (f *Finding) Resolved() bool {
	return f.Status == StatusResolved || strings.HasPrefix(f.Title, strings.TrimSpace(ResolvedTitlePrefix))
}

// MarkResolved flips the finding to its resolved representation, keeping the
// fingerprint stable so sinks can pair it with the firing instance.
func (f *Finding) MarkResolved() {
	f.Status = StatusResolved
	if !strings.HasPrefix(f.Title, ResolvedTitlePrefix) {
		f.Title = ResolvedTitlePrefix + f.Title
	}
	now := time.Now()
	f.EndsAt = &now
}

// AttributeValue resolves a scope-matcher attribute name against the finding.
// The second return is false for attribute names outside the fixed set.
func (f *Finding) AttributeValue(attr string) (string, bool) {
	switch attr {
	case "name":
		return f.Subject.Name, true
	case "namespace":
		return f.Subject.Namespace, true
	case "node":
		return f.Subject.Node, true
	case "kind":
		return string(f.Subject.Kind), true
	case "title":
		return f.Title, true
	case "type":
		return string(f.Type), true
	case "severity":
		return string(f.Severity), true
	case "source":
		return string(f.Source), true
	default:
		return "", false
	}
}

// SilenceURL computes the HMAC-signed silence link rendered by sinks when
// AddSilenceURL is set.
func (f *Finding) SilenceURL(baseURL, accountID, clusterName, signingKey string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	fmt.Fprintf(mac, "%s|%s|%s", accountID, clusterName, f.Fingerprint)
	keys := make([]string, 0, len(f.Subject.Labels))
	for k := range f.Subject.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(mac, "|%s=%s", k, f.Subject.Labels[k])
	}
	sig := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("account_id", accountID)
	q.Set("cluster", clusterName)
	q.Set("fingerprint", f.Fingerprint)
	q.Set("signature", sig)
	return strings.TrimSuffix(baseURL, "/") + "/silences/create?" + q.Encode()
}
