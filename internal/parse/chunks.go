package parse

import (
	"strings"
	"time"

	"github.com/pampax/pampax/internal/bundle"
)

// fileContext builds the header prepended to every chunk: a file path
// marker plus the package clause and imports. The header keeps a chunk
// understandable in isolation for both FTS and embeddings.
func fileContext(path string, tree *Tree, cfg *Language) string {
	parts := []string{cfg.Comment + " File: " + path}

	switch cfg.Name {
	case "go":
		if pkg := tree.Root.Child("package_clause"); pkg != nil {
			parts = append(parts, pkg.Content(tree.Source))
		}
		for _, imp := range tree.Root.ChildrenOf("import_declaration") {
			parts = append(parts, imp.Content(tree.Source))
		}
	case "typescript", "tsx", "javascript", "jsx", "python":
		for _, c := range tree.Root.Children {
			if c.Type == "import_statement" || c.Type == "import_from_statement" {
				parts = append(parts, c.Content(tree.Source))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// renderChunks produces one chunk per span: the file context header
// followed by the span's source. Chunk ids are derived from the span
// id and the context hash, so an unchanged span re-renders to the same
// chunk when its file header is unchanged.
func renderChunks(in FileInput, spans []*bundle.Span, fileCtx string, now time.Time) []*bundle.Chunk {
	ctxHash := bundle.HashString(fileCtx)
	chunks := make([]*bundle.Chunk, 0, len(spans))
	for _, sp := range spans {
		body := spanContent(in.Content, sp)
		if body == "" {
			continue
		}
		content := body
		if fileCtx != "" && sp.Kind != bundle.KindModule {
			content = fileCtx + "\n\n" + body
		}
		chunks = append(chunks, &bundle.Chunk{
			ID:        bundle.ChunkID(sp.ID, ctxHash),
			SpanID:    sp.ID,
			Repo:      in.Repo,
			Path:      in.Path,
			Content:   content,
			CreatedAt: now,
		})
	}
	return chunks
}

func spanContent(source []byte, sp *bundle.Span) string {
	if sp.ByteStart < 0 || sp.ByteEnd > len(source) || sp.ByteStart >= sp.ByteEnd {
		return ""
	}
	return string(source[sp.ByteStart:sp.ByteEnd])
}
