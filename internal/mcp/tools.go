package mcp

import (
	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/pipeline"
	"github.com/pampax/pampax/internal/rerank"
)

// SearchInput is the search tool schema.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"the search query"`
	K         int    `json:"k,omitempty" jsonschema:"maximum number of results, default 10"`
	Language  string `json:"language,omitempty" jsonschema:"restrict to one language, e.g. go, python"`
	SessionID string `json:"session_id,omitempty" jsonschema:"session scope for memory candidates"`
	Intent    string `json:"intent,omitempty" jsonschema:"override intent classification: symbol, config, api, incident, search"`
}

// SearchOutput is the ranked result list.
type SearchOutput struct {
	Query           string                  `json:"query"`
	Intent          intent.Result           `json:"intent"`
	Results         []pipeline.SearchItem   `json:"results"`
	StoppingReasons []bundle.StoppingReason `json:"stopping_reasons,omitempty"`
}

// AssembleInput is the assemble tool schema.
type AssembleInput struct {
	Query          string   `json:"query" jsonschema:"the task or question to assemble context for"`
	SessionID      string   `json:"session_id,omitempty" jsonschema:"session scope for memories and interaction history"`
	TokenBudget    int      `json:"token_budget,omitempty" jsonschema:"bundle token cap, default 8000"`
	TargetModel    string   `json:"target_model,omitempty" jsonschema:"tokenizer family for budget accounting"`
	K              int      `json:"k,omitempty" jsonschema:"candidate pool size before packing"`
	Intent         string   `json:"intent,omitempty" jsonschema:"override intent classification"`
	Language       string   `json:"language,omitempty" jsonschema:"restrict to one language"`
	RerankProvider string   `json:"rerank_provider,omitempty" jsonschema:"rescore packed items through this provider"`
	RerankModel    string   `json:"rerank_model,omitempty" jsonschema:"model override for the rerank provider"`
	Include        []string `json:"include,omitempty" jsonschema:"restrict sources: code, memory"`
	NoCache        bool     `json:"no_cache,omitempty" jsonschema:"bypass the signature cache"`
}

// AssembleOutput carries the packed bundle.
type AssembleOutput struct {
	Bundle        *bundle.Bundle `json:"bundle"`
	InteractionID string         `json:"interaction_id,omitempty"`
}

// RerankDoc is one candidate document for the rerank tool.
type RerankDoc struct {
	ID      string `json:"id" jsonschema:"caller-side document reference"`
	Content string `json:"content" jsonschema:"document text to score"`
}

// RerankInput is the rerank tool schema.
type RerankInput struct {
	Query     string      `json:"query" jsonschema:"the query to score documents against"`
	Documents []RerankDoc `json:"documents" jsonschema:"candidate documents"`
	Provider  string      `json:"provider,omitempty" jsonschema:"provider override: cohere, voyage, local, rrf"`
	Model     string      `json:"model,omitempty" jsonschema:"model override for the provider"`
	TopK      int         `json:"top_k,omitempty" jsonschema:"truncate the returned ranking"`
}

// RerankOutput is the scored ranking, best first.
type RerankOutput struct {
	Ranking []rerank.Ranked `json:"ranking"`
}

// RememberInput is the remember tool schema.
type RememberInput struct {
	SessionID string            `json:"session_id,omitempty" jsonschema:"owning session; empty for repo-global"`
	Kind      string            `json:"kind,omitempty" jsonschema:"memory kind, default note"`
	Key       string            `json:"key,omitempty" jsonschema:"addressable key; re-remembering replaces in place"`
	Content   string            `json:"content" jsonschema:"the fact to remember"`
	Metadata  map[string]string `json:"metadata,omitempty" jsonschema:"free-form labels"`
	TTLDays   int               `json:"ttl_days,omitempty" jsonschema:"expiry override in days"`
	Pinned    bool              `json:"pinned,omitempty" jsonschema:"pinned memories never expire"`
}

// MemoryOutput wraps one memory row.
type MemoryOutput struct {
	Memory *bundle.Memory `json:"memory"`
}

// RecallInput is the recall tool schema.
type RecallInput struct {
	SessionID      string `json:"session_id,omitempty" jsonschema:"session scope"`
	Query          string `json:"query,omitempty" jsonschema:"rank memories by text match; empty lists all"`
	Kind           string `json:"kind,omitempty" jsonschema:"filter by memory kind"`
	K              int    `json:"k,omitempty" jsonschema:"maximum results"`
	IncludeExpired bool   `json:"include_expired,omitempty" jsonschema:"include expired memories"`
}

// RecallHit is one recalled memory.
type RecallHit struct {
	Memory *bundle.Memory `json:"memory"`
	Score  float64        `json:"score,omitempty"`
}

// RecallOutput is the recalled list.
type RecallOutput struct {
	Memories []RecallHit `json:"memories"`
}

// ForgetInput deletes by id or by (session, key).
type ForgetInput struct {
	ID        string `json:"id,omitempty" jsonschema:"memory id to delete"`
	SessionID string `json:"session_id,omitempty" jsonschema:"session for key-based deletion"`
	Key       string `json:"key,omitempty" jsonschema:"key for key-based deletion"`
}

// ForgetOutput confirms the deletion.
type ForgetOutput struct {
	Forgotten bool `json:"forgotten"`
}

// PinSpanInput is the pin_span tool schema.
type PinSpanInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"owning session"`
	SpanID    string `json:"span_id" jsonschema:"span to pin"`
	Label     string `json:"label,omitempty" jsonschema:"short label for the pin"`
	Note      string `json:"note,omitempty" jsonschema:"why this span matters"`
}

// LearnInput is the learn tool schema.
type LearnInput struct {
	Repo       string   `json:"repo,omitempty" jsonschema:"repo whose policies are tuned"`
	SinceDays  int      `json:"since_days,omitempty" jsonschema:"interaction window in days"`
	Apply      bool     `json:"apply,omitempty" jsonschema:"apply tuned weights; false is a dry run"`
	MinSignals int      `json:"min_signals,omitempty" jsonschema:"override the signal floor"`
	Intents    []string `json:"intents,omitempty" jsonschema:"restrict tuning to these intents"`
}

// HealthInput has no parameters.
type HealthInput struct{}

// IndexStatusInput has no parameters.
type IndexStatusInput struct{}
