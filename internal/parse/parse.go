// Package parse turns source files into spans, chunks, and raw
// references. Supported languages go through tree-sitter; config files
// get key-level spans; everything else falls back to line windows.
//
// References leave this package unresolved: a RawRef names its target
// (a callee, an import path, a config key) and the index coordinator
// resolves names to destination spans once the whole repo is parsed.
package parse

import (
	"context"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// FileInput is one file to parse.
type FileInput struct {
	Repo    string
	Path    string
	Lang    string // detected when empty
	Content []byte
}

// RawRef is an unresolved reference extracted from a span's body. The
// target is a name, not a span id; resolution happens after the whole
// repo has been parsed.
type RawRef struct {
	SrcSpanID  string
	Kind       bundle.EdgeKind
	Target     string
	Confidence float64
}

// Result is everything extracted from one file.
type Result struct {
	Lang   string
	Spans  []*bundle.Span
	Chunks []*bundle.Chunk
	Refs   []RawRef
	// Fallback is true when the file was handled without a grammar.
	Fallback bool
}

// Parser extracts spans from source files. Not safe for concurrent
// use; create one parser per worker.
type Parser struct {
	parser   *sitter.Parser
	registry *Registry
	now      func() time.Time
}

// New builds a parser over the default registry.
func New() *Parser {
	return NewWithRegistry(DefaultRegistry())
}

// NewWithRegistry builds a parser over a custom registry.
func NewWithRegistry(registry *Registry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
		now:      time.Now,
	}
}

// Close releases the underlying parser.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// Detect returns the grammar language for a path, or "" when only the
// fallback applies.
func (p *Parser) Detect(path string) string {
	return p.registry.Detect(path)
}

// File parses one file into spans, chunks, and raw references. Files
// without a grammar never fail: config files produce key spans, other
// text produces line-window spans.
func (p *Parser) File(ctx context.Context, in FileInput) (*Result, error) {
	const op = "parse.File"
	if in.Repo == "" || in.Path == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "repo and path are required", nil)
	}
	if len(in.Content) == 0 {
		return &Result{Lang: in.Lang}, nil
	}

	lang := in.Lang
	if lang == "" {
		lang = p.registry.Detect(in.Path)
	}
	cfg, ok := p.registry.ByName(lang)
	if !ok {
		return p.fallback(in), nil
	}

	tree, err := p.parse(ctx, in.Content, lang)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, ctx.Err())
		}
		// A file the grammar cannot parse still gets indexed, just
		// without structure.
		return p.fallback(in), nil
	}

	spans, nodes := extractSpans(in, tree, cfg)
	if len(spans) == 0 {
		return p.fallback(in), nil
	}

	fileCtx := fileContext(in.Path, tree, cfg)
	res := &Result{
		Lang:   lang,
		Spans:  spans,
		Chunks: renderChunks(in, spans, fileCtx, p.now()),
		Refs:   extractRefs(in, tree, cfg, spans, nodes),
	}
	return res, nil
}

func (p *Parser) parse(ctx context.Context, source []byte, lang string) (*Tree, error) {
	const op = "parse.parse"
	grammar, ok := p.registry.Grammar(lang)
	if !ok {
		return nil, errors.E(errors.KindInvalidInput, op, "no grammar for "+lang, nil)
	}
	p.parser.SetLanguage(grammar)
	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if tsTree == nil {
		return nil, errors.E(errors.KindInternal, op, "nil tree", nil)
	}
	return &Tree{
		Root:   convertNode(tsTree.RootNode()),
		Source: source,
		Lang:   lang,
	}, nil
}
