package pack

import (
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

// truncMarker replaces elided lines in truncated content.
const truncMarker = "…"

// truncate cuts content to at most maxTokens with the given strategy.
// Cutting is line based: head keeps the opening lines, tail the
// closing ones, middle both ends, smart the first line plus a
// head-weighted share of both ends. Returns the cut text and its
// measured size.
func (p *Packer) truncate(content string, strategy bundle.TruncateStrategy, maxTokens int, model string) (string, int) {
	if maxTokens <= 0 {
		return "", 0
	}
	cost := func(s string) int { return p.tokens.Count(model, s).Count }
	if n := cost(content); n <= maxTokens {
		return content, n
	}

	lines := strings.Split(content, "\n")
	costs := make([]int, len(lines))
	for i, ln := range lines {
		costs[i] = cost(ln)
	}
	budget := maxTokens - cost(truncMarker)
	if budget <= 0 {
		return "", 0
	}

	var pre, post []string
	switch strategy {
	case bundle.TruncateTail:
		post = takeTail(lines, costs, budget)
	case bundle.TruncateMiddle:
		pre = takeHead(lines, costs, budget/2)
		rest := lines[len(pre):]
		post = takeTail(rest, costs[len(pre):], budget-sumLineCosts(costs[:len(pre)]))
	case bundle.TruncateSmart:
		// The first line is the declaration; keep it, then favor the
		// head over the tail seven to three.
		if costs[0] <= budget {
			pre = lines[:1]
			rest := budget - costs[0]
			pre = append(pre, takeHead(lines[1:], costs[1:], rest*7/10)...)
			after := lines[len(pre):]
			post = takeTail(after, costs[len(pre):], budget-sumLineCosts(costs[:len(pre)]))
		}
	default:
		pre = takeHead(lines, costs, budget)
	}

	// Per-line sums drift from the joined measurement, so shave lines
	// next to the marker until the whole fits. A bare marker with no
	// surviving lines is worthless, drop the item instead.
	for {
		if len(pre) == 0 && len(post) == 0 {
			return "", 0
		}
		out := assembleCut(pre, post)
		n := cost(out)
		if n <= maxTokens {
			return out, n
		}
		switch {
		case len(pre) > 0:
			pre = pre[:len(pre)-1]
		case len(post) > 0:
			post = post[1:]
		default:
			return "", 0
		}
	}
}

func assembleCut(pre, post []string) string {
	parts := make([]string, 0, len(pre)+len(post)+1)
	parts = append(parts, pre...)
	parts = append(parts, truncMarker)
	parts = append(parts, post...)
	return strings.Join(parts, "\n")
}

func takeHead(lines []string, costs []int, budget int) []string {
	var kept []string
	used := 0
	for i, ln := range lines {
		if used+costs[i] > budget {
			break
		}
		kept = append(kept, ln)
		used += costs[i]
	}
	return kept
}

func takeTail(lines []string, costs []int, budget int) []string {
	used := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		if used+costs[i] > budget {
			break
		}
		start = i
		used += costs[i]
	}
	return lines[start:]
}

func sumLineCosts(costs []int) int {
	total := 0
	for _, c := range costs {
		total += c
	}
	return total
}
