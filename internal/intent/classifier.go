// Package intent classifies retrieval queries into one of five intents
// and extracts the technical entities they mention. Classification is
// deterministic: weighted keyword and pattern scoring, no model calls.
package intent

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// Default classifier configuration values.
const (
	// DefaultCacheSize is the LRU cache size for classification results.
	DefaultCacheSize = 10000

	// DefaultScoreThreshold is the score an intent must exceed to win.
	// At or below it the classifier answers with the general search
	// intent, keeping the highest observed confidence.
	DefaultScoreThreshold = 0.2

	// exactMatchBonus rewards a pattern that matches the whole query.
	exactMatchBonus = 0.2

	// extraSignalBonus rewards each matched signal beyond the first.
	extraSignalBonus = 0.1
)

// classificationOrder fixes tie-breaking: when two intents score
// equally, the more specific signal set wins.
var classificationOrder = []bundle.Intent{
	bundle.IntentIncident,
	bundle.IntentAPI,
	bundle.IntentConfig,
	bundle.IntentSymbol,
}

// Entity is one technical reference extracted from a query.
type Entity struct {
	// Type is one of: symbol, path, error_code, endpoint, config_key.
	Type string `json:"type"`
	// Value is the matched text.
	Value string `json:"value"`
	// Position is the byte offset of the match in the query.
	Position int `json:"position"`
}

// Result is a classification outcome.
type Result struct {
	// Intent is the winning intent, or search when nothing scored
	// above the confidence threshold.
	Intent bundle.Intent `json:"intent"`
	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
	// Entities are the technical references found in the query.
	Entities []Entity `json:"entities,omitempty"`
	// Signals names the matched keyword and pattern signals for the
	// winning intent, for explainability in logs and health output.
	Signals []string `json:"signals,omitempty"`
	// SuggestedPolicies names policy presets suited to the result.
	SuggestedPolicies []string `json:"suggested_policies,omitempty"`
}

// Classifier scores queries against per-intent signal batteries.
// Safe for concurrent use.
type Classifier struct {
	cache     *lru.Cache[string, Result]
	threshold float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithCacheSize overrides the result cache capacity.
func WithCacheSize(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			cache, err := lru.New[string, Result](n)
			if err == nil {
				c.cache = cache
			}
		}
	}
}

// WithScoreThreshold overrides the winning-score threshold.
func WithScoreThreshold(t float64) Option {
	return func(c *Classifier) {
		if t >= 0 {
			c.threshold = t
		}
	}
}

// NewClassifier creates a pattern classifier with a bounded result cache.
func NewClassifier(opts ...Option) *Classifier {
	cache, _ := lru.New[string, Result](DefaultCacheSize)
	c := &Classifier{cache: cache, threshold: DefaultScoreThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify determines the intent, confidence, and entities for a query.
// Blank queries are invalid input.
func (c *Classifier) Classify(ctx context.Context, query string) (Result, error) {
	const op = "intent.Classify"

	if err := ctx.Err(); err != nil {
		return Result{}, errors.Wrap(errors.KindCancelled, op, err)
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{}, errors.E(errors.KindInvalidInput, op, "query must not be blank", nil).
			WithHint("provide a non-empty query string")
	}

	cacheKey := strings.ToLower(trimmed)
	if res, ok := c.cache.Get(cacheKey); ok {
		return res, nil
	}

	res := c.classify(trimmed)
	c.cache.Add(cacheKey, res)
	return res, nil
}

// classify runs the scoring pass over one trimmed query.
func (c *Classifier) classify(query string) Result {
	fields := fieldSpans(query)

	scores := make(map[bundle.Intent]float64, len(classificationOrder))
	signals := make(map[bundle.Intent][]string, len(classificationOrder))
	exact := make(map[bundle.Intent]bool, len(classificationOrder))
	covered := make(map[bundle.Intent][]bool, len(classificationOrder))

	for _, it := range classificationOrder {
		cov := make([]bool, len(fields))

		for _, kw := range intentKeywords[it] {
			hit := false
			for i, f := range fields {
				if strings.ToLower(trimTokenEdges(f.tok)) == kw {
					cov[i] = true
					hit = true
				}
			}
			if hit {
				scores[it] += keywordWeight
				signals[it] = append(signals[it], "kw:"+kw)
			}
		}

		for _, ps := range intentPatterns[it] {
			hit := false
			if ps.exact {
				if ps.re.MatchString(query) {
					hit = true
					exact[it] = true
					for i := range cov {
						cov[i] = true
					}
				} else {
					for i, f := range fields {
						if ps.re.MatchString(trimTokenEdges(f.tok)) {
							cov[i] = true
							hit = true
						}
					}
				}
			} else {
				for _, loc := range ps.re.FindAllStringIndex(query, -1) {
					hit = true
					for i, f := range fields {
						if loc[0] < f.end && f.start < loc[1] {
							cov[i] = true
						}
					}
				}
			}
			if hit {
				scores[it] += patternWeight
				signals[it] = append(signals[it], "pat:"+ps.name)
			}
		}

		covered[it] = cov
	}

	var top bundle.Intent
	var topScore, total float64
	for _, it := range classificationOrder {
		s := scores[it]
		total += s
		if s > topScore {
			top = it
			topScore = s
		}
	}

	res := Result{
		Intent:            bundle.IntentSearch,
		Entities:          extractEntities(query),
		SuggestedPolicies: []string{"default-search"},
	}
	if topScore == 0 {
		if quotedPattern.MatchString(query) {
			res.Signals = append(res.Signals, "pat:quoted")
		}
		if naturalLanguagePattern.MatchString(query) {
			res.Signals = append(res.Signals, "pat:natural_language")
		}
		return res
	}

	// Base ratio blends dominance (how uniquely the top intent
	// matched) with coverage (how much of the query matched it).
	dominance := topScore / total
	coverage := 0.0
	if len(fields) > 0 {
		n := 0
		for _, hit := range covered[top] {
			if hit {
				n++
			}
		}
		coverage = float64(n) / float64(len(fields))
	}
	confidence := 0.5*dominance + 0.5*coverage
	if exact[top] {
		confidence += exactMatchBonus
	}
	if extras := len(signals[top]) - 1; extras > 0 {
		confidence += float64(extras) * extraSignalBonus
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	res.Confidence = confidence
	if topScore <= c.threshold {
		// Weak signal. Keep the highest observed confidence but
		// answer with the general intent so policy stays broad.
		return res
	}

	res.Intent = top
	res.Signals = signals[top]
	res.SuggestedPolicies = []string{"default-" + string(top)}
	if confidence < 0.5 {
		res.SuggestedPolicies = append(res.SuggestedPolicies, "default-search")
	}
	return res
}

// fieldSpan is one whitespace-delimited token with its byte offsets.
type fieldSpan struct {
	start, end int
	tok        string
}

// fieldSpans splits a query into tokens carrying byte offsets, so
// pattern matches found by offset can be mapped back to tokens.
func fieldSpans(query string) []fieldSpan {
	var spans []fieldSpan
	off := 0
	for _, f := range strings.Fields(query) {
		idx := strings.Index(query[off:], f)
		start := off + idx
		spans = append(spans, fieldSpan{start: start, end: start + len(f), tok: f})
		off = start + len(f)
	}
	return spans
}

// trimTokenEdges strips surrounding punctuation that would defeat
// keyword and identifier matching ("error:" -> "error").
func trimTokenEdges(tok string) string {
	return strings.Trim(tok, `.,;:!?"'()[]{}<>`)
}

// extractEntities runs the entity battery over a query. Each distinct
// value is reported once, classified by the most specific type, with
// the byte offset of its first occurrence.
func extractEntities(query string) []Entity {
	var out []Entity
	seen := make(map[string]struct{})

	add := func(typ, value string, pos int) {
		if value == "" || pos < 0 {
			return
		}
		if _, dup := seen[value]; dup {
			return
		}
		seen[value] = struct{}{}
		out = append(out, Entity{Type: typ, Value: value, Position: pos})
	}

	// Route mentions span whitespace; pull them before tokenizing.
	for _, loc := range httpRoutePattern.FindAllStringIndex(query, -1) {
		add("endpoint", query[loc[0]:loc[1]], loc[0])
	}

	for _, raw := range strings.Fields(query) {
		tok := trimTokenEdges(raw)
		pos := strings.Index(query, tok)
		switch {
		case tok == "":
		case errorCodePattern.MatchString(tok):
			add("error_code", tok, pos)
		case filePathPattern.MatchString(tok):
			add("path", tok, pos)
		case urlPathPattern.MatchString(tok):
			add("endpoint", tok, pos)
		case screamingSnakePattern.MatchString(tok),
			configKeyPattern.MatchString(tok):
			add("config_key", tok, pos)
		case camelCasePattern.MatchString(tok),
			pascalCasePattern.MatchString(tok),
			snakeCasePattern.MatchString(tok),
			dottedRefPattern.MatchString(tok):
			add("symbol", tok, pos)
		}
	}
	return out
}
