package models

// Block is the sum type of renderable fragments inside an enrichment. Sinks
// render the variants they understand; unsupported variants degrade to text
// or are dropped with a log line.
type Block interface {
	BlockType() string
}

// MarkdownBlock holds markdown-formatted text.
type MarkdownBlock struct {
	Text string `json:"text"`
}

func (MarkdownBlock) BlockType() string { return "markdown" }

// HeaderBlock renders as a section heading.
type HeaderBlock struct {
	Text string `json:"text"`
}

func (HeaderBlock) BlockType() string { return "header" }

// DividerBlock renders as a horizontal separator.
type DividerBlock struct{}

func (DividerBlock) BlockType() string { return "divider" }

// ListBlock renders an itemized list.
type ListBlock struct {
	Items []string `json:"items"`
}

func (ListBlock) BlockType() string { return "list" }

// TableBlockFormat selects how a table is laid out by sinks that support it.
type TableBlockFormat string

const (
	TableFormatHorizontal TableBlockFormat = "horizontal"
	TableFormatVertical   TableBlockFormat = "vertical"
)

// TableBlock renders tabular data. ColumnRenderers maps a header name to a
// renderer hint (e.g. "datetime") for sinks that format cells.
type TableBlock struct {
	Headers         []string          `json:"headers,omitempty"`
	Rows            [][]string        `json:"rows"`
	ColumnRenderers map[string]string `json:"column_renderers,omitempty"`
	Format          TableBlockFormat  `json:"format,omitempty"`
}

func (TableBlock) BlockType() string { return "table" }

// FileBlock carries raw file contents (log excerpts, reports) for sinks that
// support attachments.
type FileBlock struct {
	Filename string `json:"filename"`
	Contents []byte `json:"contents"`
}

func (FileBlock) BlockType() string { return "file" }

// EmptyFileBlock marks an attachment that was requested but turned out empty,
// so sinks can say so instead of silently omitting it.
type EmptyFileBlock struct {
	Filename string `json:"filename"`
}

func (EmptyFileBlock) BlockType() string { return "empty_file" }

// JsonBlock carries an arbitrary JSON-serializable value.
type JsonBlock struct {
	Value any `json:"value"`
}

func (JsonBlock) BlockType() string { return "json" }

// DiffOp classifies a single structural difference between two objects.
type DiffOp string

const (
	DiffOpAdded   DiffOp = "ADDED"
	DiffOpRemoved DiffOp = "REMOVED"
	DiffOpChanged DiffOp = "CHANGED"
)

// ObjectDiff is one path-level difference between two versions of an object.
type ObjectDiff struct {
	Path string `json:"path"`
	Op   DiffOp `json:"op"`
	Old  any    `json:"old,omitempty"`
	New  any    `json:"new,omitempty"`
}

// KubernetesDiffBlock describes what changed between two versions of a
// Kubernetes object.
type KubernetesDiffBlock struct {
	Diffs     []ObjectDiff `json:"diffs"`
	Old       any          `json:"old,omitempty"`
	New       any          `json:"new,omitempty"`
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	Namespace string       `json:"namespace,omitempty"`
}

func (KubernetesDiffBlock) BlockType() string { return "kubernetes_diff" }

// LinksBlock renders a list of titled links.
type LinksBlock struct {
	Links []Link `json:"links"`
}

func (LinksBlock) BlockType() string { return "links" }

// CallbackChoice binds a button label to an action re-dispatched through the
// callback ingress when clicked. The payload is HMAC-signed before leaving
// the process; nothing callable is ever serialized.
type CallbackChoice struct {
	ActionName string         `json:"action_name"`
	Params     map[string]any `json:"params,omitempty"`
}

// CallbackBlock renders interactive choices on sinks that support them.
type CallbackBlock struct {
	Choices map[string]CallbackChoice `json:"choices"`
}

func (CallbackBlock) BlockType() string { return "callback" }

// PrometheusBlock carries a rendered query result alongside the query that
// produced it.
type PrometheusBlock struct {
	Query  string `json:"query"`
	Result any    `json:"result,omitempty"`
}

func (PrometheusBlock) BlockType() string { return "prometheus" }

// EventsBlock carries recent Kubernetes events related to the subject.
type EventsBlock struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

func (EventsBlock) BlockType() string { return "events" }

// ScanReportBlock carries the outcome of a scanner run (e.g. policy audit).
type ScanReportBlock struct {
	ScanID  string     `json:"scan_id"`
	Type    string     `json:"type"`
	Results [][]string `json:"results"`
}

func (ScanReportBlock) BlockType() string { return "scan_report" }
