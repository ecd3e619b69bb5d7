package bundle

import "time"

// DegradeLevel is the reduction tier applied by the packing engine
// under budget pressure. Zero means no degradation.
type DegradeLevel int

const (
	DegradeNone DegradeLevel = iota
	// DegradeLight capsules optional items.
	DegradeLight
	// DegradeModerate capsules supplementary items.
	DegradeModerate
	// DegradeHeavy capsules important items.
	DegradeHeavy
	// DegradeSevere drops optional and supplementary items.
	DegradeSevere
	// DegradeEmergency keeps only must-have signatures.
	DegradeEmergency
)

// String returns the level name used in logs and token reports.
func (d DegradeLevel) String() string {
	switch d {
	case DegradeNone:
		return "none"
	case DegradeLight:
		return "light"
	case DegradeModerate:
		return "moderate"
	case DegradeHeavy:
		return "heavy"
	case DegradeSevere:
		return "severe"
	case DegradeEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ReasonCategory classifies a stopping reason.
type ReasonCategory string

const (
	ReasonResource    ReasonCategory = "resource"
	ReasonQuality     ReasonCategory = "quality"
	ReasonPerformance ReasonCategory = "performance"
	ReasonError       ReasonCategory = "error"
)

// ReasonSeverity grades how strongly a stopping reason affected output.
type ReasonSeverity string

const (
	SeverityInfo    ReasonSeverity = "info"
	SeverityWarning ReasonSeverity = "warning"
	SeverityCritical ReasonSeverity = "critical"
)

// StoppingReason explains why the pipeline reduced, skipped, or gave up
// on part of its work. Recoverable stage failures surface here instead
// of failing the whole query.
type StoppingReason struct {
	Category ReasonCategory `json:"category"`
	Severity ReasonSeverity `json:"severity"`
	Stage    string         `json:"stage"`
	Message  string         `json:"message"`
	Hint     string         `json:"hint,omitempty"`
}

// Item is one ranked entry in a bundle.
type Item struct {
	SpanRef      string       `json:"span_ref"`
	ChunkID      string       `json:"chunk_id"`
	Path         string       `json:"path"`
	ChunkContent string       `json:"chunk_content"`
	Source       Source       `json:"source"`
	Sources      []Source     `json:"sources,omitempty"`
	Score        float64      `json:"score"`
	Rank         int          `json:"rank"`
	Reasons      []string     `json:"reasons,omitempty"`
	Kind         ContentKind  `json:"kind,omitempty"`
	Tier         Tier         `json:"tier,omitempty"`
	Degradation  DegradeLevel `json:"degradation_level,omitempty"`
	// OriginalTokens and PackedTokens record the reduction applied to
	// this item, when any.
	OriginalTokens int `json:"original_tokens,omitempty"`
	PackedTokens   int `json:"packed_tokens"`
}

// TierReport breaks token usage down per packing tier.
type TierReport struct {
	Allocated int `json:"allocated"`
	Used      int `json:"used"`
	Items     int `json:"items"`
	Capsuled  int `json:"capsuled"`
	Truncated int `json:"truncated"`
	Skipped   int `json:"skipped"`
}

// TokenReport accounts for the bundle's token budget.
type TokenReport struct {
	Budget      int                 `json:"budget"`
	EstUsed     int                 `json:"est_used"`
	Actual      int                 `json:"actual"`
	Model       string              `json:"model"`
	PerTier     map[Tier]TierReport `json:"per_tier,omitempty"`
	Degradation DegradeLevel        `json:"degradation_level"`
}

// Bundle is the token-budgeted, ordered set of items returned to the
// caller. Item order is a deterministic function of the query, the
// store snapshot, the policy, and cache state.
type Bundle struct {
	Query           string           `json:"query"`
	Intent          Intent           `json:"intent"`
	Items           []Item           `json:"items"`
	TokenReport     TokenReport      `json:"token_report"`
	Degradation     DegradeLevel     `json:"degradation_level"`
	StoppingReasons []StoppingReason `json:"stopping_reasons,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	FromCache       bool             `json:"from_cache,omitempty"`
}

// AddReason appends a stopping reason.
func (b *Bundle) AddReason(r StoppingReason) {
	b.StoppingReasons = append(b.StoppingReasons, r)
}

// SourceKindCounts tallies items per (source, content kind) pair.
// The outcome analyzer folds these into bundle signatures.
func (b *Bundle) SourceKindCounts() map[string]int {
	counts := make(map[string]int)
	for _, it := range b.Items {
		counts[string(it.Source)+"/"+string(it.Kind)]++
	}
	return counts
}
