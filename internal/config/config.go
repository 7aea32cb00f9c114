package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting needed to boot any of the pipeline stages.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Detection   DetectionConfig   `yaml:"detection"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Backends    BackendsConfig    `yaml:"backends"`
	Clients     ClientsConfig     `yaml:"clients"`
	Store       StoreConfig       `yaml:"store"`
	Transport   TransportConfig   `yaml:"transport"`
	Cache       CacheConfig       `yaml:"cache"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// ServerConfig controls the HTTP, gRPC health and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

// DetectionConfig drives the detection cycle.
type DetectionConfig struct {
	Interval    time.Duration `yaml:"interval"`
	TagKey      string        `yaml:"tagKey"`
	TagValue    string        `yaml:"tagValue"`
	State       string        `yaml:"state"`
	MetricName  string        `yaml:"metricName"`
	AnomalyKind string        `yaml:"anomalyKind"`
	Period      time.Duration `yaml:"period"`
	Lookback    time.Duration `yaml:"lookback"`
	Concurrency int           `yaml:"concurrency"`
	// PublishTimeout bounds each anomaly publish.
	PublishTimeout time.Duration `yaml:"publishTimeout"`
	ModelPath      string        `yaml:"modelPath"`
}

// CorrelationConfig controls the log evidence search.
type CorrelationConfig struct {
	Window           time.Duration `yaml:"window"`
	Keywords         []string      `yaml:"keywords"`
	LogSourcePattern string        `yaml:"logSourcePattern"`
}

// BackendsConfig selects which collaborator implementation serves each concern.
type BackendsConfig struct {
	Inventory string `yaml:"inventory"`
	Metrics   string `yaml:"metrics"`
	Logs      string `yaml:"logs"`
	Control   string `yaml:"control"`
}

// ClientsConfig groups collaborator client settings.
type ClientsConfig struct {
	Core       CoreClientConfig       `yaml:"core"`
	Prometheus PrometheusClientConfig `yaml:"prometheus"`
	Docker     DockerClientConfig     `yaml:"docker"`
}

// CoreClientConfig configures the telemetry gateway HTTP API.
type CoreClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	InventoryPath string        `yaml:"inventoryPath"`
	MetricsPath   string        `yaml:"metricsPath"`
	LogsPath      string        `yaml:"logsPath"`
	RestartPath   string        `yaml:"restartPath"`
	Timeout       time.Duration `yaml:"timeout"`
	InventoryTTL  time.Duration `yaml:"inventoryTTL"`
}

// PrometheusClientConfig configures the query_range metric store.
type PrometheusClientConfig struct {
	Address string        `yaml:"address"`
	Query   string        `yaml:"query"`
	Timeout time.Duration `yaml:"timeout"`
}

// DockerClientConfig configures the container backend. Empty Host uses DOCKER_HOST.
type DockerClientConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the incident store.
type StoreConfig struct {
	Driver    string          `yaml:"driver"`
	DSN       string          `yaml:"dsn"`
	Migrate   bool            `yaml:"migrate"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

// FirestoreConfig configures the Firestore incident store.
type FirestoreConfig struct {
	ProjectID  string `yaml:"projectID"`
	Collection string `yaml:"collection"`
}

// TransportConfig selects the message substrate between stages.
type TransportConfig struct {
	Driver        string              `yaml:"driver"`
	Topics        TopicsConfig        `yaml:"topics"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	PubSub        PubSubConfig        `yaml:"pubsub"`
	Redis         RedisStreamsConfig  `yaml:"redis"`
	Memory        MemoryBusConfig     `yaml:"memory"`
}

// TopicsConfig names the two inter-stage topics.
type TopicsConfig struct {
	Anomalies   string `yaml:"anomalies"`
	Remediation string `yaml:"remediation"`
}

// SubscriptionsConfig names the consumer side of each topic.
type SubscriptionsConfig struct {
	RCA         string `yaml:"rca"`
	Remediation string `yaml:"remediation"`
}

// PubSubConfig configures Google Cloud Pub/Sub.
type PubSubConfig struct {
	ProjectID              string `yaml:"projectID"`
	Push                   bool   `yaml:"push"`
	MaxOutstandingMessages int    `yaml:"maxOutstandingMessages"`
}

// RedisStreamsConfig configures the Redis Streams transport.
type RedisStreamsConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Consumer     string        `yaml:"consumer"`
	Block        time.Duration `yaml:"block"`
	ClaimMinIdle time.Duration `yaml:"claimMinIdle"`
}

// MemoryBusConfig configures the in-process bus.
type MemoryBusConfig struct {
	Buffer        int `yaml:"buffer"`
	MaxDeliveries int `yaml:"maxDeliveries"`
}

// CacheConfig controls Redis-backed caching of dashboard reads and inventory lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
}

// DashboardConfig controls the cached summary and live feed.
type DashboardConfig struct {
	SummaryTTL      time.Duration `yaml:"summaryTTL"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	RecentLimit     int           `yaml:"recentLimit"`
	HotspotLimit    int           `yaml:"hotspotLimit"`
}

// DefaultKeywords are the log keywords that corroborate an anomaly.
var DefaultKeywords = []string{"error", "failed", "critical", "exception", "timeout", "denied"}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_AIOPS_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			AllowedOrigins:  []string{"*"},
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Tracing: TracingConfig{ServiceName: "mirador-aiops", SampleRate: 1},
		Detection: DetectionConfig{
			Interval:       5 * time.Minute,
			TagKey:         "Monitored",
			TagValue:       "true",
			State:          "running",
			MetricName:     "CPUUtilization",
			AnomalyKind:    "High CPU Utilization",
			Period:         5 * time.Minute,
			Lookback:       30 * time.Minute,
			Concurrency:    8,
			PublishTimeout: 10 * time.Second,
			ModelPath:      "models/model.json",
		},
		Correlation: CorrelationConfig{
			Window:           5 * time.Minute,
			Keywords:         append([]string(nil), DefaultKeywords...),
			LogSourcePattern: "/{resource}/var/log/messages",
		},
		Backends: BackendsConfig{Inventory: "core", Metrics: "core", Logs: "core", Control: "core"},
		Clients: ClientsConfig{
			Core: CoreClientConfig{
				InventoryPath: "/api/v1/inventory",
				MetricsPath:   "/api/v1/metrics/query",
				LogsPath:      "/api/v1/logs/filter",
				RestartPath:   "/api/v1/control/restart",
				Timeout:       5 * time.Second,
				InventoryTTL:  time.Minute,
			},
			Prometheus: PrometheusClientConfig{
				Query:   `avg(rate(container_cpu_usage_seconds_total{name="{resource}"}[5m])) * 100`,
				Timeout: 10 * time.Second,
			},
			Docker: DockerClientConfig{Timeout: 30 * time.Second},
		},
		Store: StoreConfig{
			Driver:    "memory",
			Migrate:   true,
			Firestore: FirestoreConfig{Collection: "incidents"},
		},
		Transport: TransportConfig{
			Driver:        "memory",
			Topics:        TopicsConfig{Anomalies: "aiops.anomalies", Remediation: "aiops.remediation"},
			Subscriptions: SubscriptionsConfig{RCA: "aiops-rca", Remediation: "aiops-remediation"},
			PubSub:        PubSubConfig{MaxOutstandingMessages: 10},
			Redis: RedisStreamsConfig{
				Block:        5 * time.Second,
				ClaimMinIdle: time.Minute,
			},
			Memory: MemoryBusConfig{Buffer: 256, MaxDeliveries: 5},
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Dashboard: DashboardConfig{
			SummaryTTL:      30 * time.Second,
			RefreshInterval: 30 * time.Second,
			RecentLimit:     20,
			HotspotLimit:    5,
		},
	}
}

// Validate rejects unknown driver names before any client is built.
func (c *Config) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"backends.inventory", c.Backends.Inventory, []string{"core", "docker"}},
		{"backends.metrics", c.Backends.Metrics, []string{"core", "prometheus"}},
		{"backends.logs", c.Backends.Logs, []string{"core", "docker"}},
		{"backends.control", c.Backends.Control, []string{"core", "docker"}},
		{"store.driver", c.Store.Driver, []string{"memory", "postgres", "sqlite", "firestore"}},
		{"transport.driver", c.Transport.Driver, []string{"memory", "pubsub", "redis"}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return fmt.Errorf("%s: unsupported value %q (want one of %s)", check.field, check.value, strings.Join(check.allowed, ", "))
		}
	}
	if c.Detection.Period <= 0 || c.Detection.Lookback < c.Detection.Period {
		return fmt.Errorf("detection: lookback (%s) must be at least one period (%s)", c.Detection.Lookback, c.Detection.Period)
	}
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive")
	}
	if len(c.Correlation.Keywords) == 0 {
		return fmt.Errorf("correlation.keywords must not be empty")
	}
	return nil
}

// ValidateCommand rejects settings that cannot work for a single subcommand. The memory
// transport only links stages running in the same process, so it is limited to "all".
func (c *Config) ValidateCommand(command string) error {
	switch command {
	case "detect", "rca", "remediate":
		if c.Transport.Driver == "memory" {
			return fmt.Errorf("transport.driver %q cannot reach other processes; use pubsub or redis for %s, or run all", c.Transport.Driver, command)
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	setString("MIRADOR_AIOPS_HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	setString("MIRADOR_AIOPS_GRPC_ADDRESS", &cfg.Server.GRPCAddress)
	setString("MIRADOR_AIOPS_METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	if v := os.Getenv("MIRADOR_AIOPS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setString("MIRADOR_AIOPS_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("MIRADOR_AIOPS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	setString("MIRADOR_AIOPS_LOG_FILE", &cfg.Logging.File)

	setString("MIRADOR_AIOPS_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	setDuration("MIRADOR_AIOPS_DETECTION_INTERVAL", &cfg.Detection.Interval)
	setString("RESOURCE_TAG_KEY", &cfg.Detection.TagKey)
	setString("RESOURCE_TAG_VALUE", &cfg.Detection.TagValue)
	setString("MODEL_PATH", &cfg.Detection.ModelPath)
	setString("MIRADOR_AIOPS_MODEL_PATH", &cfg.Detection.ModelPath)
	setInt("MIRADOR_AIOPS_DETECTION_CONCURRENCY", &cfg.Detection.Concurrency)
	setDuration("MIRADOR_AIOPS_PUBLISH_TIMEOUT", &cfg.Detection.PublishTimeout)

	setDuration("MIRADOR_AIOPS_CORRELATION_WINDOW", &cfg.Correlation.Window)
	if v := os.Getenv("MIRADOR_AIOPS_KEYWORDS"); v != "" {
		cfg.Correlation.Keywords = splitList(v)
	}
	setString("MIRADOR_AIOPS_LOG_SOURCE_PATTERN", &cfg.Correlation.LogSourcePattern)

	setString("MIRADOR_AIOPS_INVENTORY_BACKEND", &cfg.Backends.Inventory)
	setString("MIRADOR_AIOPS_METRICS_BACKEND", &cfg.Backends.Metrics)
	setString("MIRADOR_AIOPS_LOGS_BACKEND", &cfg.Backends.Logs)
	setString("MIRADOR_AIOPS_CONTROL_BACKEND", &cfg.Backends.Control)

	setString("MIRADOR_CORE_BASE_URL", &cfg.Clients.Core.BaseURL)
	setDuration("MIRADOR_CORE_TIMEOUT", &cfg.Clients.Core.Timeout)
	setString("MIRADOR_AIOPS_PROMETHEUS_URL", &cfg.Clients.Prometheus.Address)
	setString("MIRADOR_AIOPS_PROMETHEUS_QUERY", &cfg.Clients.Prometheus.Query)
	setString("MIRADOR_AIOPS_DOCKER_HOST", &cfg.Clients.Docker.Host)

	setString("MIRADOR_AIOPS_STORE_DRIVER", &cfg.Store.Driver)
	setString("MIRADOR_AIOPS_STORE_DSN", &cfg.Store.DSN)
	setBool("MIRADOR_AIOPS_STORE_MIGRATE", &cfg.Store.Migrate)
	setString("GOOGLE_CLOUD_PROJECT", &cfg.Store.Firestore.ProjectID)
	setString("MIRADOR_AIOPS_FIRESTORE_COLLECTION", &cfg.Store.Firestore.Collection)

	setString("MIRADOR_AIOPS_TRANSPORT", &cfg.Transport.Driver)
	setString("MIRADOR_AIOPS_TOPIC_ANOMALIES", &cfg.Transport.Topics.Anomalies)
	setString("MIRADOR_AIOPS_TOPIC_REMEDIATION", &cfg.Transport.Topics.Remediation)
	setString("MIRADOR_AIOPS_SUBSCRIPTION_RCA", &cfg.Transport.Subscriptions.RCA)
	setString("MIRADOR_AIOPS_SUBSCRIPTION_REMEDIATION", &cfg.Transport.Subscriptions.Remediation)
	setString("GOOGLE_CLOUD_PROJECT", &cfg.Transport.PubSub.ProjectID)
	setBool("MIRADOR_AIOPS_PUBSUB_PUSH", &cfg.Transport.PubSub.Push)
	setString("MIRADOR_AIOPS_REDIS_ADDR", &cfg.Transport.Redis.Addr)
	setString("MIRADOR_AIOPS_REDIS_PASSWORD", &cfg.Transport.Redis.Password)
	setString("MIRADOR_AIOPS_REDIS_CONSUMER", &cfg.Transport.Redis.Consumer)

	setBool("MIRADOR_AIOPS_CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("MIRADOR_AIOPS_CACHE_ADDR", &cfg.Cache.Addr)
	setString("MIRADOR_AIOPS_CACHE_USERNAME", &cfg.Cache.Username)
	setString("MIRADOR_AIOPS_CACHE_PASSWORD", &cfg.Cache.Password)
	setInt("MIRADOR_AIOPS_CACHE_DB", &cfg.Cache.DB)
	setDuration("MIRADOR_AIOPS_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	setDuration("MIRADOR_AIOPS_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	setDuration("MIRADOR_AIOPS_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	setInt("MIRADOR_AIOPS_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)

	setDuration("MIRADOR_AIOPS_SUMMARY_TTL", &cfg.Dashboard.SummaryTTL)
	setDuration("MIRADOR_AIOPS_REFRESH_INTERVAL", &cfg.Dashboard.RefreshInterval)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
