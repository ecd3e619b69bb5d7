package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time // drives warm/cold timeout selection
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, resolves an installed embedding
// model (falling back through cfg.FallbackModels), and detects the vector
// dimension unless cfg.Dimensions is set.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	const op = "embed.NewOllamaEmbedder"

	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = fallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = ollamaPoolSize
	}

	// Short idle timeout so connections drain quickly after one-shot CLI
	// runs; indexing reuses the pool within that window.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: it would override the per-request contexts
	// that implement warm/cold timeout selection in doEmbedWithRetry.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		// Cold model loads can take tens of seconds.
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			werr := errors.Wrap(errors.KindUnavailable, op, err)
			if werr.Hint == "" {
				werr.Hint = "start Ollama with 'ollama serve', or use the static provider"
			}
			return nil, werr
		}
		e.modelName = modelName

		if e.dims == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, errors.Wrap(errors.KindUnavailable, op, err).
					WithDetail("model", modelName)
			}
			e.dims = dims
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

// listModels fetches the installed models from /api/tags.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	const op = "embed.listModels"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindUnavailable, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.E(errors.KindUnavailable, op,
			fmt.Sprintf("model list failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	return result.Models, nil
}

// findAvailableModel resolves the configured model against the installed
// set, matching full names first and bare names (without the ":tag")
// second, then walks the fallback list the same way.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	const op = "embed.findAvailableModel"

	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized name -> installed name
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, ok := available[base]; !ok {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, candidate := range candidates {
		name := strings.ToLower(candidate)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", errors.E(errors.KindUnavailable, op,
		fmt.Sprintf("no embedding model installed (tried %s and fallbacks %v)", e.config.Model, e.config.FallbackModels), nil).
		WithHint(fmt.Sprintf("run 'ollama pull %s'", e.config.Model))
}

// detectDimensions learns the vector width from a probe embedding.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	const op = "embed.detectDimensions"

	vecs, err := e.doEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, errors.E(errors.KindInternal, op, "model returned an empty embedding", nil)
	}
	return len(vecs[0]), nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embed.Ollama.Embed"

	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	vecs, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.E(errors.KindInternal, op, "model returned no embedding", nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Blank texts get
// zero vectors without touching the API; the rest go out in batches of
// config.BatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embed.Ollama.EmbedBatch"

	if err := e.checkOpen(op); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, err)
		}

		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		vecs, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		for i, vec := range vecs {
			results[batch[i].idx] = vec
		}

		if e.config.ProgressFunc != nil {
			e.config.ProgressFunc(end, len(nonEmpty))
		}
	}

	return results, nil
}

// timeout picks the cold timeout on the first call and after the model
// has likely been unloaded, the warm timeout otherwise.
func (e *OllamaEmbedder) timeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

func (e *OllamaEmbedder) updateLastCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// doEmbedWithRetry retries transient failures with exponential backoff.
// Each attempt gets its own timeout so a wedged request cannot consume
// the whole retry budget.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embed.Ollama"

	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, err)
		}

		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(errors.KindCancelled, op, ctx.Err())
			case <-time.After(backoff):
			}
		}

		timeout := e.timeout()
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		vecs, err := e.doEmbed(attemptCtx, texts)
		cancel()

		if err == nil {
			e.updateLastCall()
			return vecs, nil
		}
		lastErr = err

		slog.Debug("embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", e.config.MaxRetries),
			slog.Duration("timeout", timeout),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, ctx.Err())
		}
	}

	return nil, errors.E(errors.KindOf(lastErr), op,
		fmt.Sprintf("embedding failed after %d attempts", e.config.MaxRetries), lastErr)
}

// doEmbed performs one /api/embed request. The HTTP call runs in a
// goroutine so cancellation can interrupt a stalled connection instead
// of waiting out the full timeout.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embed.doEmbed"

	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		vecs [][]float32
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- result{nil, errors.Wrap(errors.KindUnavailable, op, err)}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, errors.E(errors.KindUnavailable, op,
				fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)}
			return
		}

		var apiResult ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, errors.Wrap(errors.KindInternal, op, err)}
			return
		}

		vecs := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			vec := make([]float32, len(emb))
			for j, v := range emb {
				vec[j] = float32(v)
			}
			vecs[i] = normalizeVector(vec)
		}
		resultCh <- result{vecs, nil}
	}()

	select {
	case <-ctx.Done():
		// Force-close connections so the goroutine unblocks instead of
		// holding a read on a dead request.
		e.ForceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, errors.Wrap(errors.KindUnavailable, op, ctx.Err())
	case r := <-resultCh:
		return r.vecs, r.err
	}
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available reports whether Ollama is reachable and the model installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	want := strings.ToLower(e.modelName)
	for _, m := range models {
		have := strings.ToLower(m.Name)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return true
		}
	}
	return false
}

// SetProgressFunc installs a callback invoked after each completed batch
// with (completed, total) text counts.
func (e *OllamaEmbedder) SetProgressFunc(fn func(completed, total int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.ProgressFunc = fn
}

// Close releases idle connections. Safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// ForceCloseConnections closes every connection, active ones included,
// by swapping the transport. In-flight reads on the old transport fail
// promptly, which is what lets cancellation interrupt a stalled request.
func (e *OllamaEmbedder) ForceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = &http.Transport{
		MaxIdleConns:        e.config.PoolSize,
		MaxIdleConnsPerHost: e.config.PoolSize,
		MaxConnsPerHost:     e.config.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   true,
	}
	e.client.Transport = e.transport
}

func (e *OllamaEmbedder) checkOpen(op string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errors.E(errors.KindUnavailable, op, "embedder is closed", nil)
	}
	return nil
}
