package models

import "gopkg.in/yaml.v3"

// PlaybooksDocument is the top-level playbook configuration file. Unknown
// top-level keys fail the load with a pointer to the offending path.
type PlaybooksDocument struct {
	CustomPlaybooks []PlaybookDefinition `yaml:"customPlaybooks"`
	SinksConfig     []SinkDefinition     `yaml:"sinksConfig"`
	GlobalConfig    map[string]any       `yaml:"globalConfig,omitempty"`
}

// PlaybookDefinition is one user-declared playbook before compilation:
// trigger and action entries keep their YAML fragments so the loader can
// typecheck them against the registered schemas.
type PlaybookDefinition struct {
	Triggers []NamedFragment `yaml:"triggers"`
	Actions  []NamedFragment `yaml:"actions"`
	Sinks    []string        `yaml:"sinks,omitempty"`
	Stop     bool            `yaml:"stop,omitempty"`
}

// NamedFragment is a single-key YAML mapping like
// `on_prometheus_alert: {alert_name: Foo}`; the key selects the trigger or
// action and the value node carries its parameters.
type NamedFragment struct {
	Name   string
	Params *yaml.Node
}

// UnmarshalYAML decodes the single-key mapping form.
func (nf *NamedFragment) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return &yaml.TypeError{Errors: []string{"expected a single-key mapping naming a trigger or action"}}
	}
	nf.Name = node.Content[0].Value
	nf.Params = node.Content[1]
	return nil
}

// DecodeParams unmarshals the fragment's parameters into a typed schema
// struct. A nil params node leaves the schema at its defaults.
func (nf *NamedFragment) DecodeParams(out any) error {
	if nf.Params == nil || nf.Params.Kind == 0 {
		return nil
	}
	return nf.Params.Decode(out)
}

// SinkDefinition is one entry of sinksConfig: a single-key mapping from sink
// type (slack_sink, webhook_sink, ...) to its configuration.
type SinkDefinition struct {
	Type   string
	Config SinkConfig
}

// UnmarshalYAML decodes the single-key mapping form of a sink definition.
func (sd *SinkDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return &yaml.TypeError{Errors: []string{"expected a single-key mapping naming a sink type"}}
	}
	sd.Type = node.Content[0].Value
	return node.Content[1].Decode(&sd.Config)
}

// SinkConfig is the common configuration shared by all sink types plus the
// transport-specific fields the concrete sinks consume.
type SinkConfig struct {
	Name    string       `yaml:"name"`
	Default bool         `yaml:"default"`
	Scope   *ScopeParams `yaml:"scope,omitempty"`

	// Matchers is the legacy flat matcher list kept for older configs; it is
	// evaluated as an additional include set.
	Matchers []ScopeMatcher `yaml:"match,omitempty"`

	TimeSlices []TimeSlice `yaml:"activity,omitempty"`

	// Transport-specific fields. Each sink type reads the subset it needs.
	URL             string            `yaml:"url,omitempty"`
	APIKey          string            `yaml:"api_key,omitempty"`
	SlackChannel    string            `yaml:"slack_channel,omitempty"`
	ChannelOverride string            `yaml:"channel_override,omitempty"`
	WebhookOverride string            `yaml:"webhook_override,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`

	SMTPHost string   `yaml:"smtp_host,omitempty"`
	SMTPPort int      `yaml:"smtp_port,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       []string `yaml:"to,omitempty"`

	MailboxCapacity int `yaml:"mailbox_capacity,omitempty"`
}

// TimeSlice restricts sink delivery to given weekdays and time ranges in a
// timezone. An empty policy always allows.
type TimeSlice struct {
	Weekdays   []string    `yaml:"days,omitempty"`
	TimeRanges []TimeRange `yaml:"hours,omitempty"`
	Timezone   string      `yaml:"timezone,omitempty"`
}

// TimeRange is an inclusive wall-clock window in "HH:MM" notation.
type TimeRange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}
