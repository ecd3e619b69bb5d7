package pack

import (
	"path/filepath"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

var configExts = map[string]struct{}{
	".yaml":       {},
	".yml":        {},
	".json":       {},
	".toml":       {},
	".ini":        {},
	".env":        {},
	".conf":       {},
	".cfg":        {},
	".properties": {},
}

var docExts = map[string]struct{}{
	".md":   {},
	".rst":  {},
	".txt":  {},
	".adoc": {},
}

// Classify maps a candidate to a content kind. Path conventions win
// over span kind, span kind over content signals.
func Classify(path string, kind bundle.SpanKind, name, content string) bundle.ContentKind {
	if path == "" {
		// Memory items carry no path.
		return bundle.ContentDocs
	}
	lower := strings.ToLower(path)
	if isTestPath(lower) {
		return bundle.ContentTests
	}
	if isExamplePath(lower) {
		return bundle.ContentExamples
	}

	ext := filepath.Ext(lower)
	base := filepath.Base(lower)
	if _, ok := docExts[ext]; ok {
		return bundle.ContentDocs
	}
	if _, ok := configExts[ext]; ok {
		return bundle.ContentConfig
	}
	if base == "dockerfile" || base == "makefile" || strings.HasPrefix(base, ".env") {
		return bundle.ContentConfig
	}
	if hasSegment(lower, "docs") || hasSegment(lower, "doc") {
		return bundle.ContentDocs
	}
	if hasSegment(lower, "config") || hasSegment(lower, "configs") {
		return bundle.ContentConfig
	}

	if kind == bundle.KindConstant || kind == bundle.KindVariable {
		if isConfigName(name) {
			return bundle.ContentConfig
		}
	}
	if mostlyComments(content) {
		return bundle.ContentComments
	}
	return bundle.ContentCode
}

// isTestPath matches the test-layout conventions of the indexed
// languages. Lowercased input expected.
func isTestPath(lower string) bool {
	base := filepath.Base(lower)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return strings.Contains(lower, "__tests__/") ||
		hasSegment(lower, "test") ||
		hasSegment(lower, "tests")
}

func isExamplePath(lower string) bool {
	base := filepath.Base(lower)
	if strings.HasPrefix(base, "example_") || strings.Contains(base, "_example.") {
		return true
	}
	return hasSegment(lower, "example") ||
		hasSegment(lower, "examples") ||
		hasSegment(lower, "_examples")
}

// hasSegment reports whether the path contains seg as a whole
// directory component.
func hasSegment(lower, seg string) bool {
	return strings.HasPrefix(lower, seg+"/") || strings.Contains(lower, "/"+seg+"/")
}

// isConfigName matches SCREAMING_SNAKE constants, the usual shape of
// configuration keys declared in code.
func isConfigName(name string) bool {
	if len(name) < 4 || !strings.Contains(name, "_") {
		return false
	}
	return strings.ToUpper(name) == name
}

// mostlyComments reports whether at least 60% of the non-empty lines
// open with a comment marker.
func mostlyComments(content string) bool {
	lines := strings.Split(content, "\n")
	total, commented := 0, 0
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		total++
		if strings.HasPrefix(ln, "//") || strings.HasPrefix(ln, "#") ||
			strings.HasPrefix(ln, "*") || strings.HasPrefix(ln, "/*") ||
			strings.HasPrefix(ln, "--") {
			commented++
		}
	}
	if total < 2 {
		return false
	}
	return float64(commented)/float64(total) >= 0.6
}
