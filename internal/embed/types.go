// Package embed provides vector embedding providers for chunk and query
// text. The Ollama provider talks to a local Ollama server; the static
// provider hashes tokens into a fixed-width vector and works offline.
// Both return unit-length vectors so cosine similarity reduces to a dot
// product against the stored embeddings.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout limits shared by all providers.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize caps batch size to bound request payloads.
	MaxBatchSize = 256

	// DefaultBatchSize is the default number of texts per embedding request.
	DefaultBatchSize = 32

	// DefaultWarmTimeout applies when the model served a request recently.
	DefaultWarmTimeout = 60 * time.Second

	// DefaultColdTimeout applies when the model may need loading first.
	// Cold loads of larger embedding models can take over a minute.
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps an idle model loaded.
	// Calls after this gap get the cold timeout again.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries bounds attempts per embedding request.
	DefaultMaxRetries = 3
)

const (
	// DefaultDimensions matches the default Ollama embedding model.
	DefaultDimensions = 768

	// StaticDimensions is the vector width of the hash-based provider.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result has
	// one vector per input, in order; blank inputs yield zero vectors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the identifier that keys stored embeddings.
	ModelName() string

	// Available reports whether the provider can serve requests now.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}
