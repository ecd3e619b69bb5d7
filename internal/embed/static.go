package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/pampax/pampax/internal/errors"
)

// StaticEmbedder hashes identifier tokens and character trigrams into a
// fixed-width vector. It needs no network or model files, is fully
// deterministic, and trades semantic quality for availability. Used as
// the offline fallback and in tests.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// Tokens dominate the vector; trigrams add partial-match signal.
const (
	staticTokenWeight   = 0.7
	staticTrigramWeight = 0.3
	staticTrigramSize   = 3
)

// staticStopWords are language keywords too common to carry signal.
var staticStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var staticWordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates the hash-based embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates a deterministic embedding for a single text. Blank
// input yields a zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embed.Static.Embed"

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errors.E(errors.KindUnavailable, op, "embedder is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.hashVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// hashVector buckets weighted tokens and trigrams into the vector.
func (e *StaticEmbedder) hashVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range staticTokens(text) {
		vector[hashBucket(token)] += staticTokenWeight
	}

	compact := compactAlnum(text)
	for i := 0; i+staticTrigramSize <= len(compact); i++ {
		vector[hashBucket(compact[i:i+staticTrigramSize])] += staticTrigramWeight
	}

	return vector
}

// staticTokens lowercases identifier parts after splitting words on
// snake_case and camelCase boundaries, dropping stop words.
func staticTokens(text string) []string {
	var tokens []string
	for _, word := range staticWordPattern.FindAllString(text, -1) {
		for _, segment := range strings.Split(word, "_") {
			for _, part := range splitCamelRuns(segment) {
				lower := strings.ToLower(part)
				if lower != "" && !staticStopWords[lower] {
					tokens = append(tokens, lower)
				}
			}
		}
	}
	return tokens
}

// splitCamelRuns breaks camelCase at case boundaries while keeping
// acronym runs intact ("parseHTTPRequest" -> parse, HTTP, Request).
func splitCamelRuns(s string) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if (prevLower || nextLower) && i > start {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

// compactAlnum lowercases and strips everything but letters and digits,
// the shape trigrams are drawn from.
func compactAlnum(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashBucket maps a string onto a vector index with FNV-64.
func hashBucket(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(StaticDimensions))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available reports readiness; the static embedder is always ready
// until closed.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
