package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pampax/pampax/internal/errors"
)

// ProjectFileName is the per-repo config file.
const ProjectFileName = ".pampax.yaml"

// knownKeys maps each section to its accepted keys, used to surface
// typos as warnings.
var knownKeys = map[string][]string{
	"":            {"version", "paths", "search", "embeddings", "rerank", "packing", "policies", "learning", "performance", "server", "memory", "features", "storage"},
	"paths":       {"include", "exclude", "respect_gitignore"},
	"search":      {"rrf_constant", "generator_timeout_ms", "default_k"},
	"embeddings":  {"provider", "model", "endpoint", "dimensions", "batch_size"},
	"rerank":      {"provider", "fallback", "local_endpoint", "model", "cache_ttl_hours"},
	"packing":     {"default_budget", "must_share", "important_share", "supplementary_share", "optional_share", "reserve_share", "capsule_max_tokens"},
	"policies":    {"overrides"},
	"learning":    {"min_signals", "learning_rate", "min_weight", "max_weight"},
	"performance": {"search_timeout_ms", "assembly_timeout_ms", "database_timeout_ms", "external_timeout_ms", "index_workers", "graph_cache_size", "max_file_size_mb"},
	"server":      {"transport", "log_level", "log_file"},
	"memory":      {"default_ttl_days", "session_retention_days"},
	"features":    {"rerank", "memory", "graph", "watch"},
	"storage":     {"dir", "sqlite_cache_mb"},
}

// UserConfigPath is ~/.config/pampax/config.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pampax", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pampax", "config.yaml")
}

// Load builds the effective config for a repo root: defaults, then
// the user file, then the project file, then PAMPAX_* env overrides.
// Missing files are fine; malformed YAML is not.
func Load(root string) (*Config, error) {
	cfg := Default()

	if p := UserConfigPath(); p != "" {
		if err := cfg.applyFile(p); err != nil {
			return nil, err
		}
	}
	if root != "" {
		if err := cfg.applyFile(filepath.Join(root, ProjectFileName)); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyFile layers one YAML file over the current config. Unknown
// keys become warnings.
func (c *Config) applyFile(path string) error {
	const op = "config.load"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.KindInternal, op, err)
	}

	c.collectUnknownKeys(path, data)
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.E(errors.KindInvalidInput, op, "parse "+path, err)
	}
	return nil
}

// collectUnknownKeys walks the document's top two levels against the
// known-key tables.
func (c *Config) collectUnknownKeys(path string, data []byte) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if !known("", key) {
			c.warnf("%s: unknown key %q", filepath.Base(path), key)
			continue
		}
		section := root.Content[i+1]
		if section.Kind != yaml.MappingNode || key == "policies" {
			continue
		}
		for j := 0; j+1 < len(section.Content); j += 2 {
			sub := section.Content[j].Value
			if !known(key, sub) {
				c.warnf("%s: unknown key %q in section %q", filepath.Base(path), sub, key)
			}
		}
	}
}

func known(section, key string) bool {
	for _, k := range knownKeys[section] {
		if k == key {
			return true
		}
	}
	return false
}

// applyEnv overlays PAMPAX_* variables, the last and strongest layer.
func (c *Config) applyEnv() {
	setStr := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				c.warnf("env %s: %q is not an integer", name, v)
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			} else {
				c.warnf("env %s: %q is not a bool", name, v)
			}
		}
	}

	setStr("PAMPAX_STORAGE_DIR", &c.Storage.Dir)
	setStr("PAMPAX_LOG_LEVEL", &c.Server.LogLevel)
	setStr("PAMPAX_LOG_FILE", &c.Server.LogFile)
	setStr("PAMPAX_TRANSPORT", &c.Server.Transport)

	setStr("PAMPAX_EMBED_PROVIDER", &c.Embeddings.Provider)
	setStr("PAMPAX_EMBED_MODEL", &c.Embeddings.Model)
	setStr("PAMPAX_EMBED_ENDPOINT", &c.Embeddings.Endpoint)
	setInt("PAMPAX_EMBED_BATCH_SIZE", &c.Embeddings.BatchSize)

	setStr("PAMPAX_RERANK_PROVIDER", &c.Rerank.Provider)
	setStr("PAMPAX_RERANK_ENDPOINT", &c.Rerank.LocalEndpoint)
	setStr("PAMPAX_RERANK_MODEL", &c.Rerank.Model)
	if v := os.Getenv("PAMPAX_RERANK_FALLBACK"); v != "" {
		c.Rerank.Fallback = splitList(v)
	}

	setInt("PAMPAX_RRF_CONSTANT", &c.Search.RRFConstant)
	setInt("PAMPAX_DEFAULT_K", &c.Search.DefaultK)
	setInt("PAMPAX_BUDGET", &c.Packing.DefaultBudget)
	setInt("PAMPAX_INDEX_WORKERS", &c.Performance.IndexWorkers)

	setBool("PAMPAX_FEATURE_RERANK", &c.Features.Rerank)
	setBool("PAMPAX_FEATURE_MEMORY", &c.Features.Memory)
	setBool("PAMPAX_FEATURE_GRAPH", &c.Features.Graph)
	setBool("PAMPAX_FEATURE_WATCH", &c.Features.Watch)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the config as YAML, keeping a .bak of any previous
// file.
func (c *Config) Save(path string) error {
	const op = "config.Save"
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o644); err != nil {
			return errors.Wrap(errors.KindInternal, op, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// StateDir resolves the storage directory against a repo root.
func (c *Config) StateDir(root string) string {
	if filepath.IsAbs(c.Storage.Dir) {
		return c.Storage.Dir
	}
	return filepath.Join(root, c.Storage.Dir)
}
