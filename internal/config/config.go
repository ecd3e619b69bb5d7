// Package config loads layered configuration: built-in defaults, then
// the user file at ~/.config/pampax/config.yaml, then the project
// file .pampax.yaml at the repo root, then PAMPAX_* environment
// variables, each layer winning over the previous. Unknown keys are
// collected as warnings, never fatal: a config written by a newer
// version still loads.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pampax/pampax/internal/errors"
)

// Config is the full configuration tree.
type Config struct {
	Version     int               `yaml:"version"`
	Paths       PathsConfig       `yaml:"paths"`
	Search      SearchConfig      `yaml:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Packing     PackingConfig     `yaml:"packing"`
	Policies    PoliciesConfig    `yaml:"policies"`
	Learning    LearningConfig    `yaml:"learning"`
	Performance PerformanceConfig `yaml:"performance"`
	Server      ServerConfig      `yaml:"server"`
	Memory      MemoryConfig      `yaml:"memory"`
	Features    FeaturesConfig    `yaml:"features"`
	Storage     StorageConfig     `yaml:"storage"`

	// warnings collects unknown keys and soft problems found while
	// loading.
	warnings []string
}

// PathsConfig selects which files are indexed.
type PathsConfig struct {
	Include          []string `yaml:"include"`
	Exclude          []string `yaml:"exclude"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
}

// SearchConfig tunes retrieval.
type SearchConfig struct {
	// RRFConstant smooths reciprocal-rank fusion; higher flattens
	// rank differences.
	RRFConstant int `yaml:"rrf_constant"`
	// GeneratorTimeoutMS bounds each candidate generator.
	GeneratorTimeoutMS int `yaml:"generator_timeout_ms"`
	// DefaultK is the result count when a query does not ask.
	DefaultK int `yaml:"default_k"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// RerankConfig drives the rerank bus. API keys never live in the
// file; they are read from PAMPAX_<PROVIDER>_API_KEY at wire time.
type RerankConfig struct {
	Provider      string   `yaml:"provider"`
	Fallback      []string `yaml:"fallback"`
	LocalEndpoint string   `yaml:"local_endpoint"`
	Model         string   `yaml:"model"`
	CacheTTLHours int      `yaml:"cache_ttl_hours"`
}

// APIKey reads the env-only key for a provider, e.g.
// PAMPAX_COHERE_API_KEY.
func (r RerankConfig) APIKey(provider string) string {
	name := "PAMPAX_" + strings.ToUpper(provider) + "_API_KEY"
	return os.Getenv(name)
}

// PackingConfig shapes the token-budget packer.
type PackingConfig struct {
	DefaultBudget      int     `yaml:"default_budget"`
	MustShare          float64 `yaml:"must_share"`
	ImportantShare     float64 `yaml:"important_share"`
	SupplementaryShare float64 `yaml:"supplementary_share"`
	OptionalShare      float64 `yaml:"optional_share"`
	ReserveShare       float64 `yaml:"reserve_share"`
	CapsuleMaxTokens   int     `yaml:"capsule_max_tokens"`
}

// PoliciesConfig overrides retrieval policies per intent.
type PoliciesConfig struct {
	Overrides map[string]PolicyOverride `yaml:"overrides"`
}

// PolicyOverride adjusts one intent's policy. Zero values leave the
// built-in policy untouched.
type PolicyOverride struct {
	Budget     int      `yaml:"budget"`
	Generators []string `yaml:"generators"`
	Rerank     *bool    `yaml:"rerank"`
}

// LearningConfig bounds the weight tuner.
type LearningConfig struct {
	MinSignals   int     `yaml:"min_signals"`
	LearningRate float64 `yaml:"learning_rate"`
	MinWeight    float64 `yaml:"min_weight"`
	MaxWeight    float64 `yaml:"max_weight"`
}

// PerformanceConfig sets timeouts and cache sizes.
type PerformanceConfig struct {
	SearchTimeoutMS   int `yaml:"search_timeout_ms"`
	AssemblyTimeoutMS int `yaml:"assembly_timeout_ms"`
	DatabaseTimeoutMS int `yaml:"database_timeout_ms"`
	ExternalTimeoutMS int `yaml:"external_timeout_ms"`
	IndexWorkers      int `yaml:"index_workers"`
	GraphCacheSize    int `yaml:"graph_cache_size"`
	MaxFileSizeMB     int `yaml:"max_file_size_mb"`
}

// ServerConfig configures the serving surface.
type ServerConfig struct {
	Transport string `yaml:"transport"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
}

// MemoryConfig sets retention defaults.
type MemoryConfig struct {
	DefaultTTLDays       int `yaml:"default_ttl_days"`
	SessionRetentionDays int `yaml:"session_retention_days"`
}

// FeaturesConfig toggles optional subsystems.
type FeaturesConfig struct {
	Rerank bool `yaml:"rerank"`
	Memory bool `yaml:"memory"`
	Graph  bool `yaml:"graph"`
	Watch  bool `yaml:"watch"`
}

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	// Dir is the state directory, relative paths resolve against the
	// repo root.
	Dir           string `yaml:"dir"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			RespectGitignore: true,
		},
		Search: SearchConfig{
			RRFConstant:        60,
			GeneratorTimeoutMS: 2000,
			DefaultK:           10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			BatchSize: 32,
		},
		Rerank: RerankConfig{
			Provider:      "local",
			Fallback:      []string{"rrf"},
			CacheTTLHours: 24,
		},
		Packing: PackingConfig{
			DefaultBudget:      8000,
			MustShare:          0.40,
			ImportantShare:     0.30,
			SupplementaryShare: 0.15,
			OptionalShare:      0.05,
			ReserveShare:       0.10,
			CapsuleMaxTokens:   160,
		},
		Learning: LearningConfig{
			MinSignals:   5,
			LearningRate: 0.1,
			MinWeight:    0.05,
			MaxWeight:    0.60,
		},
		Performance: PerformanceConfig{
			SearchTimeoutMS:   5000,
			AssemblyTimeoutMS: 10000,
			DatabaseTimeoutMS: 2000,
			ExternalTimeoutMS: 8000,
			GraphCacheSize:    1000,
			MaxFileSizeMB:     10,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Memory: MemoryConfig{
			DefaultTTLDays:       90,
			SessionRetentionDays: 30,
		},
		Features: FeaturesConfig{
			Rerank: true,
			Memory: true,
			Graph:  true,
			Watch:  false,
		},
		Storage: StorageConfig{
			Dir:           ".pampax",
			SQLiteCacheMB: 64,
		},
	}
}

// Warnings lists unknown keys and soft problems found while loading.
func (c *Config) Warnings() []string {
	return c.warnings
}

func (c *Config) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Validate checks cross-field constraints. Problems are invalid-input
// errors so the CLI maps them to a usage exit code.
func (c *Config) Validate() error {
	const op = "config.Validate"
	var problems []string

	if c.Search.RRFConstant <= 0 {
		problems = append(problems, "search.rrf_constant must be positive")
	}
	if c.Search.DefaultK <= 0 {
		problems = append(problems, "search.default_k must be positive")
	}
	shares := c.Packing.MustShare + c.Packing.ImportantShare +
		c.Packing.SupplementaryShare + c.Packing.OptionalShare + c.Packing.ReserveShare
	if shares <= 0 || shares > 1.001 {
		problems = append(problems, fmt.Sprintf("packing shares sum to %.2f, want (0, 1]", shares))
	}
	if c.Packing.DefaultBudget <= 0 {
		problems = append(problems, "packing.default_budget must be positive")
	}
	if c.Learning.MinWeight < 0 || c.Learning.MaxWeight <= c.Learning.MinWeight {
		problems = append(problems, "learning weight bounds must satisfy 0 <= min < max")
	}
	if c.Learning.LearningRate <= 0 || c.Learning.LearningRate >= 1 {
		problems = append(problems, "learning.learning_rate must be in (0, 1)")
	}
	switch c.Server.Transport {
	case "stdio":
	default:
		problems = append(problems, fmt.Sprintf("server.transport %q is not supported", c.Server.Transport))
	}
	if c.Storage.Dir == "" {
		problems = append(problems, "storage.dir must not be empty")
	}

	if len(problems) > 0 {
		return errors.E(errors.KindInvalidInput, op, strings.Join(problems, "; "), nil)
	}
	return nil
}
