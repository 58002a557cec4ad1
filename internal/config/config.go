// Package config provides configuration management for the Kestrel runner.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full runner configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Identity   IdentityConfig   `koanf:"identity"`
	Playbooks  PlaybooksConfig  `koanf:"playbooks"`
	Kubernetes KubernetesConfig `koanf:"kubernetes"`
	Prometheus PrometheusConfig `koanf:"prometheus"`
	Redis      RedisConfig      `koanf:"redis"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Sinks      SinksConfig      `koanf:"sinks"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// IdentityConfig names the installation. SigningKey signs callback and
// silence URLs.
type IdentityConfig struct {
	AccountID             string `koanf:"account_id"`
	ClusterName           string `koanf:"cluster_name"`
	SigningKey            string `koanf:"signing_key"`
	InstallationNamespace string `koanf:"installation_namespace"`
	ReleaseName           string `koanf:"release_name"`
}

// PlaybooksConfig locates the playbook document and controls reload.
type PlaybooksConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// KubernetesConfig holds cluster connection and watch settings.
type KubernetesConfig struct {
	Kubeconfig         string        `koanf:"kubeconfig"`
	WatchQueueSize     int           `koanf:"watch_queue_size"`
	ResyncPeriod       time.Duration `koanf:"resync_period"`
	DiscoveryPeriod    time.Duration `koanf:"discovery_period"`
	HelmMonitorEnabled bool          `koanf:"helm_monitor_enabled"`
	HelmMonitorPeriod  time.Duration `koanf:"helm_monitor_period"`
}

// PrometheusConfig holds query and Alertmanager endpoints.
type PrometheusConfig struct {
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	AlertmanagerURL string        `koanf:"alertmanager_url"`
	Auth            string        `koanf:"auth"`
	GrafanaDSUID    string        `koanf:"grafana_datasource_uid"`
}

// RedisConfig enables the shared rate-limiter store. When Address is empty
// throttling stays in-process.
type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ExecutorConfig sizes the worker pool and bounds action runtime.
type ExecutorConfig struct {
	Workers       int           `koanf:"workers"`
	QueueSize     int           `koanf:"queue_size"`
	ActionTimeout time.Duration `koanf:"action_timeout"`
	RunTimeout    time.Duration `koanf:"run_timeout"`
}

// SinksConfig bounds sink delivery.
type SinksConfig struct {
	MailboxCapacity int           `koanf:"mailbox_capacity"`
	DrainTimeout    time.Duration `koanf:"drain_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Debug bool `koanf:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Identity: IdentityConfig{
			ClusterName: "default",
		},
		Playbooks: PlaybooksConfig{
			Path:  "/etc/kestrel/playbooks.yaml",
			Watch: true,
		},
		Kubernetes: KubernetesConfig{
			WatchQueueSize:    500,
			ResyncPeriod:      10 * time.Minute,
			DiscoveryPeriod:   time.Hour,
			HelmMonitorPeriod: 60 * time.Second,
		},
		Prometheus: PrometheusConfig{
			RequestTimeout: 90 * time.Second,
		},
		Executor: ExecutorConfig{
			Workers:       8,
			QueueSize:     1000,
			ActionTimeout: 120 * time.Second,
			RunTimeout:    300 * time.Second,
		},
		Sinks: SinksConfig{
			MailboxCapacity: 1000,
			DrainTimeout:    30 * time.Second,
		},
	}
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	// Load from environment variables (KESTREL_*)
	if err := k.Load(env.Provider("KESTREL_", ".", func(s string) string {
		// KESTREL_SERVER_PORT -> server.port
		return envToKey(s[8:])
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runner cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Playbooks.Path == "" {
		return fmt.Errorf("playbooks path is required")
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("executor workers must be positive")
	}
	if c.Prometheus.Enabled && c.Prometheus.URL == "" {
		return fmt.Errorf("prometheus is enabled but no url is configured")
	}
	return nil
}

// applyLegacyEnv maps the historically recognized bare environment variables
// onto their config fields. They override both file and KESTREL_* values.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("PLAYBOOKS_CONFIG_FILE_PATH"); v != "" {
		cfg.Playbooks.Path = v
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		cfg.Identity.SigningKey = v
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		cfg.Identity.AccountID = v
	}
	if v := os.Getenv("CLUSTER_NAME"); v != "" {
		cfg.Identity.ClusterName = v
	}
	if v := os.Getenv("INSTALLATION_NAMESPACE"); v != "" {
		cfg.Identity.InstallationNamespace = v
	}
	if v := os.Getenv("RELEASE_NAME"); v != "" {
		cfg.Identity.ReleaseName = v
	}
	if v := os.Getenv("PROMETHEUS_ENABLED"); v != "" {
		cfg.Prometheus.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PROMETHEUS_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Prometheus.RequestTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DISCOVERY_PERIOD_SEC"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Kubernetes.DiscoveryPeriod = time.Duration(secs) * time.Second
		}
	}
}

// envToKey converts an environment variable suffix to a config key,
// e.g. SERVER_PORT -> server.port.
func envToKey(s string) string {
	result := ""
	for _, c := range s {
		if c == '_' {
			result += "."
		} else if c >= 'A' && c <= 'Z' {
			result += string(c - 'A' + 'a')
		} else {
			result += string(c)
		}
	}
	return result
}
