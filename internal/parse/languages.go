package parse

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/pampax/pampax/internal/bundle"
)

// Language describes how one grammar maps onto spans.
type Language struct {
	Name       string
	Extensions []string
	// Kinds maps declaration node types to the span kind they produce.
	Kinds map[string]bundle.SpanKind
	// Comment is the line comment leader used in context markers.
	Comment string
}

// Registry maps file extensions to grammars.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]*Language
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

// NewRegistry builds a registry with the built-in grammars.
func NewRegistry() *Registry {
	r := &Registry{
		languages: make(map[string]*Language),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}
	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	return r
}

// ByName returns the language config by name.
func (r *Registry) ByName(name string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.languages[name]
	return l, ok
}

// Grammar returns the tree-sitter grammar for a language name.
func (r *Registry) Grammar(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[name]
	return g, ok
}

// Detect returns the language name for a path, or "" when no grammar
// covers it.
func (r *Registry) Detect(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extToLang[ext]
}

// Extensions returns every extension a registered grammar covers.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *Registry) register(l *Language, grammar *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[l.Name] = l
	r.grammars[l.Name] = grammar
	for _, ext := range l.Extensions {
		r.extToLang[ext] = l.Name
	}
}

func (r *Registry) registerGo() {
	r.register(&Language{
		Name:       "go",
		Extensions: []string{".go"},
		Kinds: map[string]bundle.SpanKind{
			"function_declaration": bundle.KindFunction,
			"method_declaration":   bundle.KindMethod,
			// type_declaration is refined to interface per node.
			"type_declaration":  bundle.KindType,
			"const_declaration": bundle.KindConstant,
			"var_declaration":   bundle.KindVariable,
		},
		Comment: "//",
	}, golang.GetLanguage())
}

func (r *Registry) registerTypeScript() {
	kinds := map[string]bundle.SpanKind{
		"function_declaration":   bundle.KindFunction,
		"method_definition":      bundle.KindMethod,
		"class_declaration":      bundle.KindClass,
		"interface_declaration":  bundle.KindInterface,
		"type_alias_declaration": bundle.KindType,
		"enum_declaration":       bundle.KindEnum,
		"lexical_declaration":    bundle.KindConstant,
		"variable_declaration":   bundle.KindVariable,
	}
	r.register(&Language{
		Name:       "typescript",
		Extensions: []string{".ts"},
		Kinds:      kinds,
		Comment:    "//",
	}, typescript.GetLanguage())
	r.register(&Language{
		Name:       "tsx",
		Extensions: []string{".tsx"},
		Kinds:      kinds,
		Comment:    "//",
	}, tsx.GetLanguage())
}

func (r *Registry) registerJavaScript() {
	kinds := map[string]bundle.SpanKind{
		"function_declaration": bundle.KindFunction,
		"method_definition":    bundle.KindMethod,
		"class_declaration":    bundle.KindClass,
		"lexical_declaration":  bundle.KindConstant,
		"variable_declaration": bundle.KindVariable,
	}
	r.register(&Language{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".cjs"},
		Kinds:      kinds,
		Comment:    "//",
	}, javascript.GetLanguage())
	r.register(&Language{
		Name:       "jsx",
		Extensions: []string{".jsx"},
		Kinds:      kinds,
		Comment:    "//",
	}, javascript.GetLanguage())
}

func (r *Registry) registerPython() {
	r.register(&Language{
		Name:       "python",
		Extensions: []string{".py"},
		Kinds: map[string]bundle.SpanKind{
			"function_definition": bundle.KindFunction,
			"class_definition":    bundle.KindClass,
		},
		Comment: "#",
	}, python.GetLanguage())
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the shared registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
