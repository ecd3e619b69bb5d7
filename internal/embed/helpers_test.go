package embed

import (
	"context"
	"math"
	"sync"
)

// vectorMagnitude computes the Euclidean length of a vector.
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// fakeEmbedder counts calls and returns deterministic vectors, standing
// in for a real provider in cache and factory tests.
type fakeEmbedder struct {
	mu         sync.Mutex
	dims       int
	name       string
	err        error
	closed     bool
	embedCalls int
	batchCalls int
	batchSizes []int
}

var _ Embedder = (*fakeEmbedder)(nil)

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dims: 8, name: "fake-model"}
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, f.dims)
	for i, r := range text {
		vec[(i+int(r))%f.dims]++
	}
	if text == "" {
		return vec
	}
	return normalizeVector(vec)
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.embedCalls++
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batchCalls++
	f.batchSizes = append(f.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) ModelName() string { return f.name }

func (f *fakeEmbedder) Available(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeEmbedder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEmbedder) calls() (embed, batch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls, f.batchCalls
}
