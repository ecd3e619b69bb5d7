package parse

import (
	"path/filepath"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

// extractSpans walks the tree and produces one span per named
// declaration, plus a module span carrying the package/import header.
// The returned map pairs span ids with their defining nodes for
// reference extraction.
func extractSpans(in FileInput, tree *Tree, cfg *Language) ([]*bundle.Span, map[string]*Node) {
	var spans []*bundle.Span
	nodes := make(map[string]*Node)

	if mod := moduleSpan(in, tree, cfg); mod != nil {
		spans = append(spans, mod)
		nodes[mod.ID] = tree.Root
	}

	var walk func(n *Node, parents []string, inClass bool)
	walk = func(n *Node, parents []string, inClass bool) {
		sp, node := spanFromNode(in, tree, cfg, n, parents, inClass)
		childParents := parents
		childInClass := inClass
		if sp != nil {
			spans = append(spans, sp)
			nodes[sp.ID] = node
			if sp.Name != "" {
				childParents = append(append([]string(nil), parents...), sp.Name)
			}
			if sp.Kind == bundle.KindClass {
				childInClass = true
			}
		}
		for _, c := range n.Children {
			walk(c, childParents, childInClass)
		}
	}
	walk(tree.Root, nil, false)

	return spans, nodes
}

// spanFromNode builds a span when the node is a named declaration.
func spanFromNode(in FileInput, tree *Tree, cfg *Language, n *Node, parents []string, inClass bool) (*bundle.Span, *Node) {
	kind, ok := cfg.Kinds[n.Type]
	if !ok {
		return nil, nil
	}

	switch cfg.Name {
	case "go":
		if n.Type == "type_declaration" {
			if spec := n.Child("type_spec"); spec != nil && spec.Child("interface_type") != nil {
				kind = bundle.KindInterface
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		// const f = () => {} declares a function, not a constant.
		if (n.Type == "lexical_declaration" || n.Type == "variable_declaration") && declaresFunction(n) {
			kind = bundle.KindFunction
		}
	case "python":
		if n.Type == "function_definition" && inClass {
			kind = bundle.KindMethod
		}
	}

	name := nameOf(n, tree.Source, cfg.Name)
	if name == "" {
		return nil, nil
	}

	doc, docStart := docComment(n, tree.Source, cfg.Comment)
	if cfg.Name == "python" && doc == "" {
		doc = pythonDocstring(n, tree.Source)
		docStart = int(n.StartByte)
	}

	sp := &bundle.Span{
		Repo:      in.Repo,
		Path:      in.Path,
		ByteStart: docStart,
		ByteEnd:   int(n.EndByte),
		Kind:      kind,
		Name:      name,
		Signature: signatureOf(n, tree.Source, kind, cfg.Name),
		Doc:       doc,
		Parents:   append([]string(nil), parents...),
	}
	sp.ComputeID()
	return sp, n
}

// moduleSpan covers the file header: the package clause plus imports
// for Go, the import block elsewhere. Import references hang off it.
func moduleSpan(in FileInput, tree *Tree, cfg *Language) *bundle.Span {
	var name string
	start, end := -1, -1

	switch cfg.Name {
	case "go":
		pkg := tree.Root.Child("package_clause")
		if pkg == nil {
			return nil
		}
		if id := pkg.Child("package_identifier"); id != nil {
			name = id.Content(tree.Source)
		}
		start, end = int(pkg.StartByte), int(pkg.EndByte)
		for _, imp := range tree.Root.ChildrenOf("import_declaration") {
			if int(imp.EndByte) > end {
				end = int(imp.EndByte)
			}
		}
	default:
		for _, c := range tree.Root.Children {
			if !isImportNode(c.Type) {
				continue
			}
			if start < 0 {
				start = int(c.StartByte)
			}
			if int(c.EndByte) > end {
				end = int(c.EndByte)
			}
		}
		if start < 0 {
			return nil
		}
		base := filepath.Base(in.Path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if name == "" || start >= end {
		return nil
	}
	sp := &bundle.Span{
		Repo:      in.Repo,
		Path:      in.Path,
		ByteStart: start,
		ByteEnd:   end,
		Kind:      bundle.KindModule,
		Name:      name,
	}
	sp.ComputeID()
	return sp
}

func isImportNode(nodeType string) bool {
	switch nodeType {
	case "import_statement", "import_from_statement":
		return true
	}
	return false
}

// declaresFunction reports whether a JS/TS variable declaration binds
// an arrow function or function expression.
func declaresFunction(n *Node) bool {
	for _, decl := range n.ChildrenOf("variable_declarator") {
		for _, c := range decl.Children {
			switch c.Type {
			case "arrow_function", "function", "function_expression":
				return true
			}
		}
	}
	return false
}

// nameOf extracts the declared name from a declaration node.
func nameOf(n *Node, source []byte, lang string) string {
	switch lang {
	case "go":
		return goName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return jsName(n, source)
	case "python":
		if id := n.Child("identifier"); id != nil {
			return id.Content(source)
		}
	}
	return ""
}

func goName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if id := n.Child("identifier"); id != nil {
			return id.Content(source)
		}
	case "method_declaration":
		if id := n.Child("field_identifier"); id != nil {
			return id.Content(source)
		}
	case "type_declaration":
		if spec := n.Child("type_spec"); spec != nil {
			if id := spec.Child("type_identifier"); id != nil {
				return id.Content(source)
			}
		}
	case "const_declaration":
		// const Name = v, or the first name of a const ( ... ) block.
		for _, spec := range n.Descendants("const_spec") {
			if id := spec.Child("identifier"); id != nil {
				return id.Content(source)
			}
		}
	case "var_declaration":
		for _, spec := range n.Descendants("var_spec") {
			if id := spec.Child("identifier"); id != nil {
				return id.Content(source)
			}
		}
	}
	return ""
}

func jsName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, decl := range n.ChildrenOf("variable_declarator") {
			if id := decl.Child("identifier"); id != nil {
				return id.Content(source)
			}
		}
		return ""
	}
	for _, c := range n.Children {
		switch c.Type {
		case "identifier", "type_identifier", "property_identifier":
			return c.Content(source)
		}
	}
	return ""
}

// docComment collects the contiguous line comments immediately above a
// declaration. The second return is the byte offset where the comment
// block starts, so the span can cover its own doc.
func docComment(n *Node, source []byte, leader string) (string, int) {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return "", int(n.StartByte)
	}

	var lines []string
	docStart := int(n.StartByte)
	pos := lineStart - 1 // the newline ending the previous line

	for pos > 0 {
		prevEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevStart := pos
		if pos > 0 {
			prevStart++
		}
		line := strings.TrimSpace(string(source[prevStart:prevEnd]))
		if !strings.HasPrefix(line, leader) {
			break
		}
		lines = append([]string{strings.TrimSpace(strings.TrimPrefix(line, leader))}, lines...)
		docStart = prevStart
	}

	if len(lines) == 0 {
		return "", int(n.StartByte)
	}
	return strings.Join(lines, "\n"), docStart
}

// pythonDocstring reads the leading string expression of a function or
// class body.
func pythonDocstring(n *Node, source []byte) string {
	body := n.Child("block")
	if body == nil || len(body.Children) == 0 {
		return ""
	}
	first := body.Children[0]
	if first.Type != "expression_statement" {
		return ""
	}
	str := first.Child("string")
	if str == nil {
		return ""
	}
	s := str.Content(source)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// signatureOf extracts the declaration's first line, trimmed at the
// opening brace for brace languages.
func signatureOf(n *Node, source []byte, kind bundle.SpanKind, lang string) string {
	switch kind {
	case bundle.KindFunction, bundle.KindMethod, bundle.KindClass,
		bundle.KindInterface, bundle.KindType, bundle.KindEnum:
	default:
		return ""
	}

	content := n.Content(source)
	if content == "" {
		return ""
	}
	firstLine := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])

	switch lang {
	case "python":
		return firstLine
	default:
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
		return firstLine
	}
}
