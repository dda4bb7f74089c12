package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the cdx persistence core configuration.
type Config struct {
	Cluster       ClusterConfig       `yaml:"cluster"`
	Engine        EngineConfig        `yaml:"engine"`
	Index         IndexConfig         `yaml:"index"`
	Query         QueryConfig         `yaml:"query"`
	BulkProcessor BulkProcessorConfig `yaml:"bulk_processor"`
	ContextServer ContextServerConfig `yaml:"context_server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// ClusterConfig identifies the search-engine cluster.
type ClusterConfig struct {
	Name string `yaml:"name"`
}

// EngineConfig holds search-engine connection settings.
type EngineConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds index naming and layout settings.
type IndexConfig struct {
	Name                    string            `yaml:"name"`
	NumberOfShards          int               `yaml:"number_of_shards"`
	NumberOfReplicas        int               `yaml:"number_of_replicas"`
	MonthlyNumberOfShards   int               `yaml:"monthly_number_of_shards"`
	MonthlyNumberOfReplicas int               `yaml:"monthly_number_of_replicas"`
	// Kinds pinned to a dedicated index, by item type.
	IndexNames map[string]string `yaml:"index_names"`
	// Kinds stored in time-partitioned monthly indices.
	ItemsMonthlyIndexed []string `yaml:"items_monthly_indexed"`
	// Shard-routing field per item type; the field value becomes the
	// co-location key for reads and writes of that kind.
	RoutingByType map[string]string `yaml:"routing_by_type"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// BulkProcessorConfig tunes the batching write coordinator.
type BulkProcessorConfig struct {
	Name               string `yaml:"name"`
	BulkActions        int    `yaml:"bulk_actions"`
	BulkSize           string `yaml:"bulk_size"`
	FlushInterval      string `yaml:"flush_interval"`
	ConcurrentRequests int    `yaml:"concurrent_requests"`
	BackoffPolicy      string `yaml:"backoff_policy"`
}

// ContextServerConfig is advertised in the cluster-node inventory.
type ContextServerConfig struct {
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	SecureAddress string `yaml:"secure_address"`
	SecurePort    int    `yaml:"secure_port"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Cluster.Name == "" {
		c.Cluster.Name = "cdx"
	}
	if c.Index.Name == "" {
		c.Index.Name = "context"
	}
	if c.Index.NumberOfShards <= 0 {
		c.Index.NumberOfShards = 5
	}
	if c.Index.NumberOfReplicas < 0 {
		c.Index.NumberOfReplicas = 0
	}
	if c.Index.MonthlyNumberOfShards <= 0 {
		c.Index.MonthlyNumberOfShards = c.Index.NumberOfShards
	}
	if c.Index.MonthlyNumberOfReplicas < 0 {
		c.Index.MonthlyNumberOfReplicas = c.Index.NumberOfReplicas
	}
	if c.Index.IndexNames == nil {
		c.Index.IndexNames = map[string]string{}
	}
	if c.Index.RoutingByType == nil {
		c.Index.RoutingByType = map[string]string{}
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 10
	}
	if c.Engine.ReadinessTimeout <= 0 {
		c.Engine.ReadinessTimeout = 10
	}
	if c.BulkProcessor.Name == "" {
		c.BulkProcessor.Name = "cdx-bulk"
	}
	if c.BulkProcessor.BulkActions <= 0 {
		c.BulkProcessor.BulkActions = 1000
	}
	if c.BulkProcessor.BulkSize == "" {
		c.BulkProcessor.BulkSize = "5MB"
	}
	if c.BulkProcessor.FlushInterval == "" {
		c.BulkProcessor.FlushInterval = "5s"
	}
	if c.BulkProcessor.ConcurrentRequests <= 0 {
		c.BulkProcessor.ConcurrentRequests = 1
	}
	if c.BulkProcessor.BackoffPolicy == "" {
		c.BulkProcessor.BackoffPolicy = "exponential"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if len(c.Engine.Addrs) == 0 {
		return fmt.Errorf("engine.addrs is required")
	}
	if strings.Contains(c.Index.Name, "-") {
		return fmt.Errorf("index.name must not contain dashes, got %q", c.Index.Name)
	}
	if c.Index.Name != strings.ToLower(c.Index.Name) {
		return fmt.Errorf("index.name must be lowercase, got %q", c.Index.Name)
	}
	for itemType, field := range c.Index.RoutingByType {
		if field == "" {
			return fmt.Errorf("index.routing_by_type.%s must name a field", itemType)
		}
	}
	return nil
}

// applyEnvOverrides applies process-wide override variables on top of the
// YAML file. Overrides win, mirroring how deployments tune the bulk
// coordinator and the advertised context-server endpoint without editing
// the config file.
func (c *Config) applyEnvOverrides() {
	setStr := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				*target = n
			}
		}
	}

	setStr("CDX_BULK_NAME", &c.BulkProcessor.Name)
	setInt("CDX_BULK_ACTIONS", &c.BulkProcessor.BulkActions)
	setStr("CDX_BULK_SIZE", &c.BulkProcessor.BulkSize)
	setStr("CDX_BULK_FLUSH_INTERVAL", &c.BulkProcessor.FlushInterval)
	setInt("CDX_BULK_CONCURRENT_REQUESTS", &c.BulkProcessor.ConcurrentRequests)
	setStr("CDX_BULK_BACKOFF_POLICY", &c.BulkProcessor.BackoffPolicy)

	setStr("CDX_CONTEXTSERVER_ADDRESS", &c.ContextServer.Address)
	setInt("CDX_CONTEXTSERVER_PORT", &c.ContextServer.Port)
	setStr("CDX_CONTEXTSERVER_SECURE_ADDRESS", &c.ContextServer.SecureAddress)
	setInt("CDX_CONTEXTSERVER_SECURE_PORT", &c.ContextServer.SecurePort)
}

func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
