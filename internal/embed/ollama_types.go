package embed

import "time"

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for code and docs.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	// ollamaPoolSize bounds the HTTP connection pool.
	ollamaPoolSize = 4
)

// fallbackOllamaModels are tried in order when the configured model is not
// installed. Only models that embed code acceptably; general text models
// like nomic-embed-text rank code poorly and are excluded.
var fallbackOllamaModels = []string{
	"embeddinggemma",
	"mxbai-embed-large",
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model to request.
	Model string

	// FallbackModels are tried in order if Model is not installed.
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize is the number of texts per /api/embed call.
	BatchSize int

	// MaxRetries bounds attempts per request on transient failures.
	MaxRetries int

	// PoolSize bounds the HTTP connection pool.
	PoolSize int

	// SkipHealthCheck skips model discovery on construction. Tests only.
	SkipHealthCheck bool

	// ProgressFunc, when set, is called after each completed batch with
	// (completed, total) text counts.
	ProgressFunc func(completed, total int)
}

// DefaultOllamaConfig returns the standard provider settings.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: fallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       ollamaPoolSize,
	}
}

// ollamaEmbedRequest is the /api/embed request body. Input is a string
// for single texts and a []string for batches.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the /api/tags response body.
type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
