package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// Hosted rerank API defaults. Keys come from the environment only;
// they are never read from config files.
const (
	CohereEndpoint     = "https://api.cohere.com/v2/rerank"
	CohereDefaultModel = "rerank-v3.5"
	CohereKeyEnv       = "COHERE_API_KEY"

	VoyageEndpoint     = "https://api.voyageai.com/v1/rerank"
	VoyageDefaultModel = "rerank-2"
	VoyageKeyEnv       = "VOYAGE_API_KEY"
)

// APIConfig configures a hosted rerank provider.
type APIConfig struct {
	// Endpoint overrides the provider's public URL, mainly for tests.
	Endpoint string
	Model    string
	// Client overrides the pooled default.
	Client *http.Client
}

// apiProvider is the shared shape of the Cohere and Voyage providers:
// bearer-keyed JSON POST, index-based scores in the response.
type apiProvider struct {
	name     string
	endpoint string
	model    string
	keyEnv   string
	client   *http.Client
	// encode builds the request body; decode parses the response.
	encode func(query, model string, contents []string) any
	decode func(raw []byte) ([]indexScore, error)
}

func newAPIClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	}
}

// Name implements Provider.
func (p *apiProvider) Name() string { return p.name }

// Models implements Provider.
func (p *apiProvider) Models() []string { return []string{p.model} }

// Available reports whether the API key is present. Reachability is
// left to the call itself; the circuit breaker handles outages.
func (p *apiProvider) Available(context.Context) bool {
	return os.Getenv(p.keyEnv) != ""
}

// Rerank implements Provider.
func (p *apiProvider) Rerank(ctx context.Context, query, model string, docs []Document) ([]Ranked, error) {
	op := "rerank." + p.name
	key := os.Getenv(p.keyEnv)
	if key == "" {
		return nil, errors.E(errors.KindUnavailable, op, "api key not set", nil).
			WithHint("export " + p.keyEnv)
	}
	if model == "" {
		model = p.model
	}

	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	body, err := json.Marshal(p.encode(query, model, contents))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindTimeout, op, err)
		}
		return nil, errors.Wrap(errors.KindUnavailable, op, err)
	}
	defer resp.Body.Close()

	return decodeIndexScores(op, resp, docs, p.decode)
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type cohereResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewCohereProvider builds the Cohere rerank provider.
func NewCohereProvider(cfg APIConfig) Provider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = CohereEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = CohereDefaultModel
	}
	return &apiProvider{
		name:     ProviderCohere,
		endpoint: endpoint,
		model:    model,
		keyEnv:   CohereKeyEnv,
		client:   newAPIClient(cfg.Client),
		encode: func(query, model string, contents []string) any {
			return cohereRequest{Model: model, Query: query, Documents: contents}
		},
		decode: func(raw []byte) ([]indexScore, error) {
			var out cohereResponse
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			scores := make([]indexScore, len(out.Results))
			for i, r := range out.Results {
				scores[i] = indexScore{Index: r.Index, Score: r.Score}
			}
			return scores, nil
		},
	}
}

type voyageRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type voyageResponse struct {
	Data []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"data"`
}

// NewVoyageProvider builds the Voyage rerank provider.
func NewVoyageProvider(cfg APIConfig) Provider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = VoyageEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = VoyageDefaultModel
	}
	return &apiProvider{
		name:     ProviderVoyage,
		endpoint: endpoint,
		model:    model,
		keyEnv:   VoyageKeyEnv,
		client:   newAPIClient(cfg.Client),
		encode: func(query, model string, contents []string) any {
			return voyageRequest{Model: model, Query: query, Documents: contents}
		},
		decode: func(raw []byte) ([]indexScore, error) {
			var out voyageResponse
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			scores := make([]indexScore, len(out.Data))
			for i, r := range out.Data {
				scores[i] = indexScore{Index: r.Index, Score: r.Score}
			}
			return scores, nil
		},
	}
}
