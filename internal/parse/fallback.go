package parse

import (
	"path/filepath"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

// Line-window sizing for files without a grammar.
const (
	fallbackWindowLines  = 120
	fallbackOverlapLines = 12
)

// configExts are treated as key/value config files: every key becomes
// a span so config-key references can resolve to them.
var configExts = map[string]bool{
	".toml":       true,
	".yaml":       true,
	".yml":        true,
	".json":       true,
	".ini":        true,
	".env":        true,
	".properties": true,
}

// fallback handles files without a grammar: config files get one span
// per key, everything else gets overlapping line windows.
func (p *Parser) fallback(in FileInput) *Result {
	ext := strings.ToLower(filepath.Ext(in.Path))
	var spans []*bundle.Span
	lang := "text"
	if configExts[ext] {
		spans = configSpans(in, ext)
		lang = strings.TrimPrefix(ext, ".")
	}
	if len(spans) == 0 {
		spans = windowSpans(in)
	}

	now := p.now()
	marker := "# File: " + in.Path
	ctxHash := bundle.HashString(marker)
	chunks := make([]*bundle.Chunk, 0, len(spans))
	for _, sp := range spans {
		body := spanContent(in.Content, sp)
		if strings.TrimSpace(body) == "" {
			continue
		}
		chunks = append(chunks, &bundle.Chunk{
			ID:        bundle.ChunkID(sp.ID, ctxHash),
			SpanID:    sp.ID,
			Repo:      in.Repo,
			Path:      in.Path,
			Content:   marker + "\n\n" + body,
			CreatedAt: now,
		})
	}

	return &Result{
		Lang:     lang,
		Spans:    spans,
		Chunks:   chunks,
		Fallback: true,
	}
}

// keyLine is one config key with its position and nesting.
type keyLine struct {
	name   string
	indent int
	start  int
	end    int // filled in a second pass
}

// configSpans extracts one span per config key. Keys nest by section
// ([db] in TOML/INI) or indentation (YAML/JSON), producing dotted
// names like "db.url" that config-key references resolve against.
func configSpans(in FileInput, ext string) []*bundle.Span {
	lines := splitLines(in.Content)
	var keys []keyLine
	section := ""
	var stack []keyLine // yaml/json indentation path

	for _, ln := range lines {
		text := strings.TrimRight(ln.text, "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || isConfigComment(trimmed) {
			continue
		}

		switch ext {
		case ".toml", ".ini":
			if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
				section = strings.Trim(trimmed, "[]")
				// Boundary only: ends the previous key's block.
				keys = append(keys, keyLine{start: ln.start})
				continue
			}
			if name, ok := splitKey(trimmed, "="); ok {
				keys = append(keys, keyLine{name: dotted(section, name), start: ln.start})
			}
		case ".env", ".properties":
			if name, ok := splitKey(trimmed, "="); ok {
				keys = append(keys, keyLine{name: name, start: ln.start})
			}
		case ".yaml", ".yml", ".json":
			name, ok := yamlKey(trimmed, ext)
			if !ok {
				continue
			}
			indent := len(text) - len(strings.TrimLeft(text, " \t"))
			for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
				stack = stack[:len(stack)-1]
			}
			parts := make([]string, 0, len(stack)+1)
			for _, k := range stack {
				parts = append(parts, k.name)
			}
			parts = append(parts, name)
			stack = append(stack, keyLine{name: name, indent: indent})
			keys = append(keys, keyLine{name: strings.Join(parts, "."), indent: indent, start: ln.start})
		}
	}

	// A key's block runs to the next key at the same or shallower
	// indent.
	for i := range keys {
		keys[i].end = len(in.Content)
		for j := i + 1; j < len(keys); j++ {
			if keys[j].indent <= keys[i].indent {
				keys[i].end = keys[j].start
				break
			}
		}
	}

	spans := make([]*bundle.Span, 0, len(keys))
	for _, k := range keys {
		if k.name == "" {
			continue
		}
		end := k.end
		for end > k.start && (in.Content[end-1] == '\n' || in.Content[end-1] == '\r') {
			end--
		}
		if k.start >= end {
			continue
		}
		sp := &bundle.Span{
			Repo:      in.Repo,
			Path:      in.Path,
			ByteStart: k.start,
			ByteEnd:   end,
			Kind:      bundle.KindConstant,
			Name:      k.name,
		}
		sp.ComputeID()
		spans = append(spans, sp)
	}
	return spans
}

func isConfigComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "//")
}

// dotted joins a section and a key into the span name, so [db] url
// becomes "db.url".
func dotted(section, name string) string {
	if section == "" {
		return name
	}
	return section + "." + name
}

func splitKey(line, sep string) (string, bool) {
	idx := strings.Index(line, sep)
	if idx <= 0 {
		return "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", false
	}
	return key, true
}

func yamlKey(line, ext string) (string, bool) {
	if strings.HasPrefix(line, "-") {
		return "", false
	}
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", false
	}
	key := strings.TrimSpace(line[:idx])
	if ext == ".json" {
		key = strings.Trim(key, `"`)
	}
	if key == "" || strings.ContainsAny(key, " \t{}[]") {
		return "", false
	}
	return key, true
}

// windowSpans cuts a file into overlapping line windows.
func windowSpans(in FileInput) []*bundle.Span {
	lines := splitLines(in.Content)
	if len(lines) == 0 {
		return nil
	}

	var spans []*bundle.Span
	for i := 0; i < len(lines); {
		end := i + fallbackWindowLines
		if end > len(lines) {
			end = len(lines)
		}
		byteStart := lines[i].start
		byteEnd := lines[end-1].start + len(lines[end-1].text)
		if byteStart < byteEnd {
			sp := &bundle.Span{
				Repo:      in.Repo,
				Path:      in.Path,
				ByteStart: byteStart,
				ByteEnd:   byteEnd,
				Kind:      bundle.KindModule,
			}
			sp.ComputeID()
			spans = append(spans, sp)
		}
		if end >= len(lines) {
			break
		}
		i = end - fallbackOverlapLines
	}
	return spans
}

type line struct {
	text  string
	start int
}

func splitLines(content []byte) []line {
	var lines []line
	offset := 0
	for _, text := range strings.Split(string(content), "\n") {
		lines = append(lines, line{text: text, start: offset})
		offset += len(text) + 1
	}
	return lines
}
