package pack

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

const (
	// keyLineMax caps how many body excerpts a capsule carries.
	keyLineMax = 3
	// topIdentCount is how many body identifiers count as structural.
	topIdentCount = 8
	// SimilarityFloor is the structural retention a capsule must reach
	// to stand in for the original.
	SimilarityFloor = 0.90
)

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// keywords are flow words shared by the indexed languages. They carry
// no identity, so they never count toward a span's structural tokens.
var keywords = map[string]struct{}{
	"func": {}, "return": {}, "if": {}, "else": {}, "for": {}, "while": {},
	"range": {}, "switch": {}, "case": {}, "break": {}, "continue": {},
	"def": {}, "class": {}, "import": {}, "from": {}, "package": {},
	"type": {}, "struct": {}, "interface": {}, "const": {}, "var": {},
	"let": {}, "new": {}, "public": {}, "private": {}, "static": {},
	"void": {}, "self": {}, "this": {}, "async": {}, "await": {},
	"try": {}, "catch": {}, "except": {}, "raise": {}, "defer": {},
	"nil": {}, "null": {}, "none": {}, "true": {}, "false": {},
}

// subTokens splits an identifier on underscores and camel boundaries
// and lowercases the parts. Parts shorter than two runes are dropped.
func subTokens(ident string) []string {
	var out []string
	for _, part := range strings.Split(ident, "_") {
		start := 0
		for i := 1; i <= len(part); i++ {
			if i == len(part) || (part[i] >= 'A' && part[i] <= 'Z' && !(part[i-1] >= 'A' && part[i-1] <= 'Z')) {
				if i-start >= 2 {
					out = append(out, strings.ToLower(part[start:i]))
				}
				start = i
			}
		}
	}
	return out
}

// tokenSet extracts the lowercased sub-token set of a string.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, ident := range identRe.FindAllString(s, -1) {
		for _, tok := range subTokens(ident) {
			set[tok] = struct{}{}
		}
	}
	return set
}

// structuralTargets is the token set a capsule must cover: the span's
// name and signature tokens plus the most frequent body identifiers.
func structuralTargets(c Candidate) map[string]struct{} {
	set := tokenSet(c.Name)
	for tok := range tokenSet(c.Signature) {
		set[tok] = struct{}{}
	}

	freq := make(map[string]int)
	for _, ident := range identRe.FindAllString(c.Content, -1) {
		for _, tok := range subTokens(ident) {
			if _, kw := keywords[tok]; kw {
				continue
			}
			if _, known := set[tok]; known {
				continue
			}
			freq[tok]++
		}
	}
	type tf struct {
		tok string
		n   int
	}
	top := make([]tf, 0, len(freq))
	for tok, n := range freq {
		top = append(top, tf{tok, n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].n != top[j].n {
			return top[i].n > top[j].n
		}
		return top[i].tok < top[j].tok
	})
	if len(top) > topIdentCount {
		top = top[:topIdentCount]
	}
	for _, t := range top {
		set[t.tok] = struct{}{}
	}
	return set
}

// structuralSimilarity is the share of target tokens the capsule
// retained. An empty target set trivially passes.
func structuralSimilarity(capsule string, targets map[string]struct{}) float64 {
	if len(targets) == 0 {
		return 1.0
	}
	have := tokenSet(capsule)
	hit := 0
	for t := range targets {
		if _, ok := have[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(targets))
}

// selectKeyLines greedily picks up to keyLineMax body lines covering
// the most still-uncovered target tokens, earliest line on ties, and
// returns them in source order.
func selectKeyLines(lines []string, uncovered map[string]struct{}) []string {
	remaining := make(map[string]struct{}, len(uncovered))
	for t := range uncovered {
		remaining[t] = struct{}{}
	}

	chosen := make(map[int]struct{}, keyLineMax)
	for len(chosen) < keyLineMax && len(remaining) > 0 {
		best, bestGain := -1, 0
		for i, ln := range lines {
			if _, ok := chosen[i]; ok {
				continue
			}
			gain := 0
			for tok := range tokenSet(ln) {
				if _, ok := remaining[tok]; ok {
					gain++
				}
			}
			if gain > bestGain {
				best, bestGain = i, gain
			}
		}
		if best < 0 {
			break
		}
		chosen[best] = struct{}{}
		for tok := range tokenSet(lines[best]) {
			delete(remaining, tok)
		}
	}

	idxs := make([]int, 0, len(chosen))
	for i := range chosen {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, lines[i])
	}
	return out
}

// bodyLines returns the trimmed, non-trivial lines after the head line.
func bodyLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) <= 1 {
		return nil
	}
	out := make([]string, 0, len(lines)-1)
	for _, ln := range lines[1:] {
		ln = strings.TrimSpace(ln)
		if len(ln) < 3 {
			continue
		}
		out = append(out, ln)
	}
	return out
}

func firstNonEmptyLine(content string) string {
	for _, ln := range strings.Split(content, "\n") {
		if t := strings.TrimSpace(ln); t != "" {
			return t
		}
	}
	return ""
}

// firstParagraph cuts a doc comment at its first blank line.
func firstParagraph(doc string) string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return ""
	}
	if i := strings.Index(doc, "\n\n"); i >= 0 {
		doc = doc[:i]
	}
	return strings.TrimSpace(doc)
}

// buildCapsule renders the deterministic summary of a candidate:
// signature, first doc paragraph, then key body lines, assembled
// while the token budget holds.
func (p *Packer) buildCapsule(c Candidate, maxTokens int, model string) (string, int) {
	if maxTokens <= 0 {
		return "", 0
	}
	cost := func(s string) int { return p.tokens.Count(model, s).Count }

	head := strings.TrimSpace(c.Signature)
	if head == "" {
		head = firstNonEmptyLine(c.Content)
	}
	if head == "" {
		return "", 0
	}
	if n := cost(head); n > maxTokens {
		return p.truncate(head, bundle.TruncateHead, maxTokens, model)
	}

	parts := []string{head}
	used := cost(head)
	if para := firstParagraph(c.Doc); para != "" {
		if n := cost(para); used+n <= maxTokens {
			parts = append(parts, para)
			used += n
		}
	}

	targets := structuralTargets(c)
	covered := tokenSet(strings.Join(parts, "\n"))
	uncovered := make(map[string]struct{})
	for t := range targets {
		if _, ok := covered[t]; !ok {
			uncovered[t] = struct{}{}
		}
	}
	for _, ln := range selectKeyLines(bodyLines(c.Content), uncovered) {
		if n := cost(ln); used+n <= maxTokens {
			parts = append(parts, ln)
			used += n
		}
	}

	out := strings.Join(parts, "\n")
	return out, cost(out)
}

// signatureCapsule is the emergency form: signature plus the first doc
// line, nothing from the body.
func (p *Packer) signatureCapsule(c Candidate, maxTokens int, model string) (string, int) {
	if maxTokens <= 0 {
		return "", 0
	}
	cost := func(s string) int { return p.tokens.Count(model, s).Count }

	head := strings.TrimSpace(c.Signature)
	if head == "" {
		head = firstNonEmptyLine(c.Content)
	}
	if head == "" {
		return "", 0
	}
	if n := cost(head); n > maxTokens {
		return p.truncate(head, bundle.TruncateHead, maxTokens, model)
	}

	parts := []string{head}
	used := cost(head)
	if doc := firstParagraph(c.Doc); doc != "" {
		line := doc
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if n := cost(line); used+n <= maxTokens {
			parts = append(parts, line)
		}
	}
	out := strings.Join(parts, "\n")
	return out, cost(out)
}
