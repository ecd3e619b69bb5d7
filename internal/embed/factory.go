package embed

import (
	"context"
	"os"
	"strings"

	"github.com/pampax/pampax/internal/errors"
)

// ProviderType identifies an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server. Default.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings. Works offline;
	// lexical search carries most of the retrieval quality.
	ProviderStatic ProviderType = "static"
)

// Options configures embedder construction. Zero values mean defaults.
type Options struct {
	Provider   ProviderType
	Model      string
	Host       string // Ollama endpoint
	Dimensions int    // overrides auto-detection when non-zero
	BatchSize  int

	// CacheSize bounds the query embedding cache. DisableCache turns
	// the cache wrapper off entirely.
	CacheSize    int
	DisableCache bool
}

// NewEmbedder builds the configured embedder and wraps it with the
// query cache unless disabled.
//
// Environment overrides, highest priority first:
//
//	PAMPAX_EMBEDDER      provider name ("ollama", "static")
//	PAMPAX_OLLAMA_HOST   Ollama endpoint
//	PAMPAX_OLLAMA_MODEL  Ollama model name
//	PAMPAX_EMBED_CACHE   "false" disables the query cache
//
// Construction fails rather than silently degrading when the selected
// provider is unreachable; callers choose the static provider or the
// degradation path explicitly.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	const op = "embed.NewEmbedder"

	provider := opts.Provider
	if env := os.Getenv("PAMPAX_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	var embedder Embedder
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Dimensions > 0 {
			cfg.Dimensions = opts.Dimensions
		}
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		if host := os.Getenv("PAMPAX_OLLAMA_HOST"); host != "" {
			cfg.Host = host
		}
		if model := os.Getenv("PAMPAX_OLLAMA_MODEL"); model != "" {
			cfg.Model = model
		}

		var err error
		embedder, err = NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.E(errors.KindInvalidInput, op,
			"unknown embedding provider "+string(provider), nil).
			WithDetail("valid", strings.Join(ValidProviders(), ", "))
	}

	if opts.DisableCache || cacheDisabledByEnv() {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, opts.CacheSize), nil
}

func cacheDisabledByEnv() bool {
	switch strings.ToLower(os.Getenv("PAMPAX_EMBED_CACHE")) {
	case "false", "0", "off", "disabled":
		return true
	}
	return false
}

// ParseProvider maps a config string onto a provider, defaulting to
// Ollama for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

// String returns the provider name.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders lists the recognized provider names.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo summarizes an embedder for health reporting.
type EmbedderInfo struct {
	Provider   ProviderType `json:"provider"`
	Model      string       `json:"model"`
	Dimensions int          `json:"dimensions"`
	Available  bool         `json:"available"`
}

// GetInfo inspects an embedder, unwrapping the cache layer.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}
	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}
	return info
}
