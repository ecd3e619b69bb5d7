// Package bundle defines the value types shared across the retrieval
// pipeline: spans, chunks, references, candidates, policy decisions, and
// the assembled bundle returned to callers.
//
// Components consume these types by value on the query path and address
// the store by id; persistent state is owned exclusively by the store.
package bundle

import (
	"time"
)

// SpanKind classifies the semantic identity of a source region.
type SpanKind string

const (
	KindFunction  SpanKind = "function"
	KindMethod    SpanKind = "method"
	KindClass     SpanKind = "class"
	KindInterface SpanKind = "interface"
	KindVariable  SpanKind = "variable"
	KindConstant  SpanKind = "constant"
	KindType      SpanKind = "type"
	KindEnum      SpanKind = "enum"
	KindModule    SpanKind = "module"
	KindImport    SpanKind = "import"
	KindExport    SpanKind = "export"
)

// Span is a contiguous source region with semantic identity.
// The unit of code understanding.
type Span struct {
	ID        string   `json:"span_id"`
	Repo      string   `json:"repo"`
	Path      string   `json:"path"`
	ByteStart int      `json:"byte_start"`
	ByteEnd   int      `json:"byte_end"`
	Kind      SpanKind `json:"kind"`
	Name      string   `json:"name,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Doc       string   `json:"doc,omitempty"`
	Parents   []string `json:"parents,omitempty"`
}

// Valid reports whether the span satisfies its basic invariant.
func (s *Span) Valid() bool {
	return s.ByteStart < s.ByteEnd && s.Repo != "" && s.Path != ""
}

// File is a tracked source file. (repo, path) is unique.
type File struct {
	Repo        string    `json:"repo"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Lang        string    `json:"lang"`
	Size        int64     `json:"size"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// Chunk is the packable text derived from one span plus local context.
type Chunk struct {
	ID        string    `json:"chunk_id"`
	SpanID    string    `json:"span_id"`
	Repo      string    `json:"repo"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EdgeKind classifies a reference between spans.
type EdgeKind string

const (
	EdgeCall      EdgeKind = "call"
	EdgeImport    EdgeKind = "import"
	EdgeTestOf    EdgeKind = "test-of"
	EdgeRoutes    EdgeKind = "routes"
	EdgeConfigKey EdgeKind = "config-key"
)

// AllEdgeKinds lists every edge kind the graph expander understands.
var AllEdgeKinds = []EdgeKind{EdgeCall, EdgeImport, EdgeTestOf, EdgeRoutes, EdgeConfigKey}

// Reference is a directed relation from one span to another location.
// The destination is addressed by (path, byte range) so edges survive
// re-indexing of the target file.
type Reference struct {
	SrcSpanID  string   `json:"src_span_id"`
	DstPath    string   `json:"dst_path"`
	ByteStart  int      `json:"byte_start"`
	ByteEnd    int      `json:"byte_end"`
	Kind       EdgeKind `json:"kind"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Memory is a user-pinned fact or note attached to a session.
type Memory struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Kind      string            `json:"kind"`
	Key       string            `json:"key,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Pinned    bool              `json:"pinned"`
}

// Expired reports whether the memory's TTL has elapsed.
// Pinned memories never expire.
func (m *Memory) Expired(now time.Time) bool {
	if m.Pinned || m.ExpiresAt.IsZero() {
		return false
	}
	return now.After(m.ExpiresAt)
}

// Session groups interactions under one client conversation.
type Session struct {
	ID        string    `json:"id"`
	Repo      string    `json:"repo"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Interaction records one query round trip for the offline learner.
type Interaction struct {
	ID               string             `json:"id"`
	SessionID        string             `json:"session_id"`
	Query            string             `json:"query"`
	Intent           Intent             `json:"intent"`
	BundleSignature  string             `json:"bundle_signature"`
	TopClick         string             `json:"top_click,omitempty"`
	Satisfied        *bool              `json:"satisfied,omitempty"`
	TimeToFix        time.Duration      `json:"time_to_fix,omitempty"`
	TokenUsage       int                `json:"token_usage"`
	SeedWeights      map[Source]float64 `json:"seed_weights,omitempty"`
	PolicyThresholds PolicyThresholds   `json:"policy_thresholds"`
	Language         string             `json:"language,omitempty"`
	Repo             string             `json:"repo,omitempty"`
	Timestamp        time.Time          `json:"ts"`
}

// PolicyThresholds carries the policy knobs active for an interaction.
type PolicyThresholds struct {
	MaxDepth           int `json:"max_depth"`
	EarlyStopThreshold int `json:"early_stop_threshold"`
}

// ContentKind classifies packable content for tier allocation.
type ContentKind string

const (
	ContentTests    ContentKind = "tests"
	ContentCode     ContentKind = "code"
	ContentComments ContentKind = "comments"
	ContentExamples ContentKind = "examples"
	ContentConfig   ContentKind = "config"
	ContentDocs     ContentKind = "docs"
)

// Tier is a packing budget tier, in priority order.
type Tier string

const (
	TierMustHave      Tier = "must-have"
	TierImportant     Tier = "important"
	TierSupplementary Tier = "supplementary"
	TierOptional      Tier = "optional"
)

// Tiers lists packing tiers in priority order.
var Tiers = []Tier{TierMustHave, TierImportant, TierSupplementary, TierOptional}

// TruncateStrategy selects how over-budget content is cut.
type TruncateStrategy string

const (
	TruncateHead   TruncateStrategy = "head"
	TruncateTail   TruncateStrategy = "tail"
	TruncateMiddle TruncateStrategy = "middle"
	TruncateSmart  TruncateStrategy = "smart"
)

// PackingProfile is the per-(repo, model) packing configuration row.
type PackingProfile struct {
	Repo            string                  `json:"repo"`
	Model           string                  `json:"model"`
	Priorities      map[ContentKind]float64 `json:"priorities"`
	TierShares      map[Tier]float64        `json:"tier_shares"`
	ReserveShare    float64                 `json:"reserve_share"`
	CapsuleMaxToken int                     `json:"capsule_max_tokens"`
	Truncate        TruncateStrategy        `json:"truncate_strategy"`
	TTL             time.Duration           `json:"ttl"`
	Version         int                     `json:"version"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// DefaultPackingProfile returns the built-in profile used when no row
// exists for a (repo, model) pair.
func DefaultPackingProfile(repo, model string) *PackingProfile {
	return &PackingProfile{
		Repo:  repo,
		Model: model,
		Priorities: map[ContentKind]float64{
			ContentCode:     1.0,
			ContentTests:    0.8,
			ContentConfig:   0.7,
			ContentDocs:     0.6,
			ContentExamples: 0.5,
			ContentComments: 0.4,
		},
		TierShares: map[Tier]float64{
			TierMustHave:      0.40,
			TierImportant:     0.30,
			TierSupplementary: 0.15,
			TierOptional:      0.05,
		},
		ReserveShare:    0.10,
		CapsuleMaxToken: 160,
		Truncate:        TruncateSmart,
		TTL:             7 * 24 * time.Hour,
		Version:         1,
	}
}
