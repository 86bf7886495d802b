// Package config loads pipeline configuration.
//
// Precedence (highest to lowest): environment variables (INGEST_ prefix) >
// YAML config file > built-in defaults. Load returns a plain value; nothing
// in this package is a global.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Destination describes the database that receives imported rows.
type Destination struct {
	// Driver selects the reflector/writer backend: "postgres", "sqlite" or
	// "mssql".
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
	// Schema is the default schema for unqualified table references.
	Schema string `koanf:"schema"`
}

// Metrics configures the optional Datadog backend. Disabled by default.
type Metrics struct {
	Enabled    bool          `koanf:"enabled"`
	Site       string        `koanf:"site"`
	APIKeyEnv  string        `koanf:"api_key_env"`
	JobName    string        `koanf:"job_name"`
	Tags       []string      `koanf:"tags"`
	FlushEvery time.Duration `koanf:"flush_every"`
}

// Config carries every process-wide tunable. All thresholds that steer
// heuristics live here so they can be tuned and tested independently.
type Config struct {
	Destination Destination `koanf:"destination"`

	// StatePath is the sqlite file holding sessions, candidates, templates
	// and lineage.
	StatePath string `koanf:"state_path"`

	MaxFileSizeMB int `koanf:"max_file_size_mb"`
	ChunkSize     int `koanf:"chunk_size"`
	PreviewRows   int `koanf:"preview_rows"`

	// MinMatchThreshold is the minimum fuzzy similarity for a column or
	// table match to be suggested at all.
	MinMatchThreshold float64 `koanf:"min_match_threshold"`

	// UpsertDuplicateRatio: when a sampled duplicate ratio against the
	// destination meets this value, strategy auto-selection picks upsert.
	UpsertDuplicateRatio float64 `koanf:"upsert_duplicate_ratio"`
	// AppendSizeRatio: an incoming batch smaller than this fraction of the
	// existing row count is treated as a patch load (append).
	AppendSizeRatio float64 `koanf:"append_size_ratio"`
	// DedupProbeLimit bounds the per-batch destination duplicate probe used
	// when no usable primary key exists.
	DedupProbeLimit int `koanf:"dedup_probe_limit"`

	Metrics Metrics `koanf:"metrics"`
}

// Default returns the built-in configuration. It is pure; tests start here.
func Default() Config {
	return Config{
		Destination: Destination{
			Driver: "postgres",
			Schema: "public",
		},
		StatePath:            "ingest_state.db",
		MaxFileSizeMB:        100,
		ChunkSize:            1000,
		PreviewRows:          10,
		MinMatchThreshold:    0.45,
		UpsertDuplicateRatio: 0.15,
		AppendSizeRatio:      1.0 / 3.0,
		DedupProbeLimit:      200,
		Metrics: Metrics{
			Site:       "datadoghq.com",
			APIKeyEnv:  "DD_API_KEY",
			JobName:    "ingest",
			FlushEvery: 15 * time.Second,
		},
	}
}

// defaultMap mirrors Default() as koanf's lowest layer.
func defaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"destination.driver":     d.Destination.Driver,
		"destination.schema":     d.Destination.Schema,
		"state_path":             d.StatePath,
		"max_file_size_mb":       d.MaxFileSizeMB,
		"chunk_size":             d.ChunkSize,
		"preview_rows":           d.PreviewRows,
		"min_match_threshold":    d.MinMatchThreshold,
		"upsert_duplicate_ratio": d.UpsertDuplicateRatio,
		"append_size_ratio":      d.AppendSizeRatio,
		"dedup_probe_limit":      d.DedupProbeLimit,
		"metrics.enabled":        d.Metrics.Enabled,
		"metrics.site":           d.Metrics.Site,
		"metrics.api_key_env":    d.Metrics.APIKeyEnv,
		"metrics.job_name":       d.Metrics.JobName,
		"metrics.flush_every":    d.Metrics.FlushEvery,
	}
}

// Load reads configuration from path (optional; "" skips the file layer) and
// INGEST_* environment variables on top of the defaults.
//
// Env keys map double underscores to nesting:
// INGEST_DESTINATION__DSN -> destination.dsn.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("INGEST_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "INGEST_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MinMatchThreshold < 0 || c.MinMatchThreshold > 1 {
		return fmt.Errorf("min_match_threshold must be in [0,1], got %g", c.MinMatchThreshold)
	}
	switch c.Destination.Driver {
	case "postgres", "sqlite", "mssql", "":
	default:
		return fmt.Errorf("unknown destination driver %q", c.Destination.Driver)
	}
	return nil
}
