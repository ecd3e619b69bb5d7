package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// Local cross-encoder defaults. The server speaks the common
// /v1/rerank JSON shape used by local inference runtimes.
const (
	DefaultLocalEndpoint = "http://localhost:9659"
	DefaultLocalModel    = "reranker-small"
)

// LocalConfig configures the local cross-encoder provider.
type LocalConfig struct {
	Endpoint string
	Model    string
	// Client overrides the pooled default, mainly for tests.
	Client *http.Client
}

// LocalProvider calls a cross-encoder model served by a local
// inference server over HTTP.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewLocalProvider builds the provider. It does not probe the server;
// availability is checked per call through Available.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultLocalEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLocalModel
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	return &LocalProvider{endpoint: cfg.Endpoint, model: cfg.Model, client: client}
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return ProviderLocal }

// Models implements Provider.
func (p *LocalProvider) Models() []string { return []string{p.model} }

// Available probes the server's health endpoint and the native
// runtime the cross-encoder needs.
func (p *LocalProvider) Available(ctx context.Context) bool {
	if !nativeRuntimeAvailable() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type localRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type localRerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements Provider.
func (p *LocalProvider) Rerank(ctx context.Context, query, model string, docs []Document) ([]Ranked, error) {
	const op = "rerank.local"
	if model == "" {
		model = p.model
	}

	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	body, err := json.Marshal(localRerankRequest{Model: model, Query: query, Documents: contents})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindTimeout, op, err)
		}
		return nil, errors.Wrap(errors.KindUnavailable, op, err)
	}
	defer resp.Body.Close()

	return decodeIndexScores(op, resp, docs, func(raw []byte) ([]indexScore, error) {
		var out localRerankResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		scores := make([]indexScore, len(out.Results))
		for i, r := range out.Results {
			scores[i] = indexScore{Index: r.Index, Score: r.Score}
		}
		return scores, nil
	})
}

// indexScore pairs a document's input position with its score.
type indexScore struct {
	Index int
	Score float64
}

// decodeIndexScores maps a provider's index-based response back onto
// document ids, validating status and indices.
func decodeIndexScores(op string, resp *http.Response, docs []Document, parse func([]byte) ([]indexScore, error)) ([]Ranked, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(errors.KindUnavailable, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.E(errors.KindRateLimited, op, "provider rate limit", nil)
	case resp.StatusCode >= 500:
		return nil, errors.Ef(errors.KindUnavailable, op, "provider returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Ef(errors.KindInternal, op, "provider returned status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	scores, err := parse(raw)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	out := make([]Ranked, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(docs) {
			return nil, errors.Ef(errors.KindInternal, op, "provider returned index %d for %d documents", s.Index, len(docs))
		}
		out = append(out, Ranked{DocID: docs[s.Index].ID, Score: s.Score})
	}
	sortRanked(out)
	return out, nil
}

func truncateBody(raw []byte) string {
	const max = 256
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
