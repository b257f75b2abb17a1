package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendQdrant = "qdrant"
	BackendNeo4j  = "neo4j"
)

// Config holds all application configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Explorer  ExplorerConfig  `mapstructure:"explorer"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

type StoreConfig struct {
	// Backend is one of memory, qdrant or neo4j.
	Backend string `mapstructure:"backend"`
	// Fixture seeds the memory backend from a JSON file.
	Fixture string `mapstructure:"fixture"`
}

type QdrantConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	APIKey   string `mapstructure:"api_key"`
	PageSize int    `mapstructure:"page_size"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SQLiteConfig struct {
	// Path to the web UI database holding the knowledge table. Empty
	// disables knowledge-base browsing.
	Path string `mapstructure:"path"`
}

type ExplorerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ReconcileConfig holds defaults used when a request leaves them out.
type ReconcileConfig struct {
	Key  []string `mapstructure:"key"`
	Copy []string `mapstructure:"copy"`
	// LockDir holds per-collection lock files that keep two runs from
	// writing the same destination. Empty disables locking.
	LockDir string `mapstructure:"lock_dir"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuditConfig struct {
	// Path receives one JSON line per metadata write. Empty disables the
	// audit log; "stdout" and "stderr" are accepted.
	Path string `mapstructure:"path"`
}

// SecretsConfig points at an optional JSON secrets file. Credential
// settings may reference it as "secret:<key>", or use "env:<VAR>" and
// "file:<path>" directly.
type SecretsConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.page_size", 256)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("explorer.listen_addr", ":5555")
	v.SetDefault("reconcile.key", []string{"name", "start_index"})
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "kbadmin-reconcile")
	v.SetDefault("tracing.service_name", "kbadmin")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Registered so KBADMIN_* overrides reach Unmarshal.
	for _, key := range []string{
		"store.fixture", "qdrant.api_key", "neo4j.password", "sqlite.path",
		"tracing.otlp_endpoint", "audit.path", "secrets.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("reconcile.copy", []string{})
	v.SetDefault("reconcile.lock_dir", filepath.Join(os.TempDir(), "kbadmin-locks"))
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Store.Backend {
	case BackendMemory:
		if c.Store.Fixture == "" {
			warnings = append(warnings, "memory store backend has no fixture; collections start empty")
		}
	case BackendQdrant:
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			warnings = append(warnings, fmt.Sprintf("qdrant port %d is out of range", c.Qdrant.Port))
		}
	case BackendNeo4j:
		if c.Neo4j.Password == "" {
			warnings = append(warnings, "neo4j backend is configured but password is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown store backend '%s'", c.Store.Backend))
	}

	if len(c.Reconcile.Key) == 0 {
		warnings = append(warnings, "reconcile.key is empty; every reconciliation must pass --key")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown log format '%s'; using text", c.Log.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from file and environment. A missing file is
// not an error: defaults and KBADMIN_* variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KBADMIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// DefaultEnvFiles are read by LoadDotEnv when no files are named.
var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadDotEnv copies variables from dotenv files into the process
// environment so KBADMIN_* overrides can live next to the config file.
// Variables already set win, and missing files are skipped. It returns the
// files that were loaded.
func LoadDotEnv(files ...string) []string {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	var loaded []string
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}
