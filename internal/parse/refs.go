package parse

import (
	"path"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

// Reference confidences by extraction quality. A bare identifier call
// is near-certain to name its target; a selector call could resolve to
// any receiver, so it scores lower.
const (
	confImport     = 0.9
	confDirectCall = 0.8
	confConfigKey  = 0.8
	confSelector   = 0.6
	confRoute      = 0.7
	confTestOf     = 0.7
	confTestName   = 0.55
)

// extractRefs walks each span's body for calls, routes, and config
// keys, and the module span for imports. Spans in test files also emit
// test-of edges toward the code they exercise.
func extractRefs(in FileInput, tree *Tree, cfg *Language, spans []*bundle.Span, nodes map[string]*Node) []RawRef {
	var refs []RawRef
	seen := make(map[string]bool)
	add := func(r RawRef) {
		if r.Target == "" {
			return
		}
		key := r.SrcSpanID + "|" + string(r.Kind) + "|" + r.Target
		if seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, r)
	}

	testFile := isTestPath(in.Path)

	for _, sp := range spans {
		node := nodes[sp.ID]
		if node == nil {
			continue
		}
		if sp.Kind == bundle.KindModule {
			for _, target := range importTargets(tree, cfg) {
				add(RawRef{SrcSpanID: sp.ID, Kind: bundle.EdgeImport, Target: target, Confidence: confImport})
			}
			continue
		}
		if sp.Kind != bundle.KindFunction && sp.Kind != bundle.KindMethod {
			continue
		}

		calls := callTargets(node, tree.Source, cfg.Name)
		for _, c := range calls {
			if c.name == sp.Name { // recursion is not an edge
				continue
			}
			add(RawRef{SrcSpanID: sp.ID, Kind: bundle.EdgeCall, Target: c.name, Confidence: c.confidence})
		}
		for _, key := range configKeyTargets(node, tree.Source, cfg.Name) {
			add(RawRef{SrcSpanID: sp.ID, Kind: bundle.EdgeConfigKey, Target: key, Confidence: confConfigKey})
		}
		for _, handler := range routeTargets(node, tree.Source, cfg.Name) {
			add(RawRef{SrcSpanID: sp.ID, Kind: bundle.EdgeRoutes, Target: handler, Confidence: confRoute})
		}

		if testFile && isTestName(sp.Name) {
			for _, c := range calls {
				add(RawRef{SrcSpanID: sp.ID, Kind: bundle.EdgeTestOf, Target: c.name, Confidence: confTestOf})
			}
			if subject := testSubject(sp.Name); subject != "" {
				add(RawRef{SrcSpanID: sp.ID, Kind: bundle.EdgeTestOf, Target: subject, Confidence: confTestName})
			}
		}
	}
	return refs
}

type callTarget struct {
	name       string
	confidence float64
}

// callTargets finds the callee of every call expression in a span's
// body.
func callTargets(n *Node, source []byte, lang string) []callTarget {
	callType := "call_expression"
	if lang == "python" {
		callType = "call"
	}

	var out []callTarget
	for _, call := range n.Descendants(callType) {
		if len(call.Children) == 0 {
			continue
		}
		callee := call.Children[0]
		switch callee.Type {
		case "identifier":
			out = append(out, callTarget{callee.Content(source), confDirectCall})
		case "selector_expression": // go: pkg.Fn or recv.Method
			if id := lastOf(callee, source, "field_identifier"); id != "" {
				out = append(out, callTarget{id, confSelector})
			}
		case "member_expression": // js/ts: obj.method
			if id := lastOf(callee, source, "property_identifier"); id != "" {
				out = append(out, callTarget{id, confSelector})
			}
		case "attribute": // python: obj.method
			if id := lastOf(callee, source, "identifier"); id != "" {
				out = append(out, callTarget{id, confSelector})
			}
		}
	}
	return out
}

// lastOf returns the content of the last direct child of the given
// type.
func lastOf(n *Node, source []byte, nodeType string) string {
	var last string
	for _, c := range n.Children {
		if c.Type == nodeType {
			last = c.Content(source)
		}
	}
	return last
}

// importTargets lists the import paths of a file.
func importTargets(tree *Tree, cfg *Language) []string {
	var out []string
	switch cfg.Name {
	case "go":
		for _, spec := range tree.Root.Descendants("import_spec") {
			if lit := spec.Child("interpreted_string_literal"); lit != nil {
				out = append(out, trimQuotes(lit.Content(tree.Source)))
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, imp := range tree.Root.ChildrenOf("import_statement") {
			if lit := imp.Child("string"); lit != nil {
				out = append(out, trimQuotes(lit.Content(tree.Source)))
			}
		}
	case "python":
		for _, imp := range tree.Root.Children {
			if !isImportNode(imp.Type) {
				continue
			}
			if name := imp.Child("dotted_name"); name != nil {
				out = append(out, name.Content(tree.Source))
			}
		}
	}
	return out
}

// configKeyTargets finds environment and config-store reads.
func configKeyTargets(n *Node, source []byte, lang string) []string {
	var out []string

	switch lang {
	case "go":
		for _, call := range n.Descendants("call_expression") {
			name := calleeName(call, source, "selector_expression", "field_identifier")
			if !isConfigGetter(name) {
				continue
			}
			if key := firstStringArg(call, source, "argument_list", "interpreted_string_literal", "raw_string_literal"); key != "" {
				out = append(out, key)
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		// process.env.KEY reads.
		for _, member := range n.Descendants("member_expression") {
			content := member.Content(source)
			if !strings.HasPrefix(content, "process.env.") {
				continue
			}
			key := content[len("process.env."):]
			if key != "" && !strings.ContainsAny(key, ".([ ") {
				out = append(out, key)
			}
		}
	case "python":
		for _, call := range n.Descendants("call") {
			if len(call.Children) == 0 {
				continue
			}
			callee := call.Children[0]
			if callee.Type != "attribute" || !strings.Contains(callee.Content(source), "environ") {
				continue
			}
			if key := firstStringArg(call, source, "argument_list", "string"); key != "" {
				out = append(out, key)
			}
		}
	}
	return out
}

func isConfigGetter(name string) bool {
	switch name {
	case "Getenv", "LookupEnv", "GetString", "GetInt", "GetBool", "GetDuration", "GetFloat64":
		return true
	}
	return false
}

// routeTargets finds handler registrations: a call carrying a route
// pattern string plus a handler identifier.
func routeTargets(n *Node, source []byte, lang string) []string {
	callType, argsType := "call_expression", "argument_list"
	stringTypes := []string{"interpreted_string_literal", "raw_string_literal"}
	switch lang {
	case "typescript", "tsx", "javascript", "jsx":
		argsType = "arguments"
		stringTypes = []string{"string"}
	case "python":
		callType, argsType = "call", "argument_list"
		stringTypes = []string{"string"}
	}

	var out []string
	for _, call := range n.Descendants(callType) {
		args := call.Child(argsType)
		if args == nil {
			continue
		}
		hasRoute := false
		var handlers []string
		for _, arg := range args.Children {
			for _, st := range stringTypes {
				if arg.Type == st && isRoutePattern(trimQuotes(arg.Content(source))) {
					hasRoute = true
				}
			}
			if arg.Type == "identifier" {
				handlers = append(handlers, arg.Content(source))
			}
			// router.Handle("/x", h.Login) style selectors.
			if arg.Type == "selector_expression" || arg.Type == "member_expression" || arg.Type == "attribute" {
				for _, t := range []string{"field_identifier", "property_identifier", "identifier"} {
					if id := lastOf(arg, source, t); id != "" {
						handlers = append(handlers, id)
						break
					}
				}
			}
		}
		if hasRoute {
			out = append(out, handlers...)
		}
	}
	return out
}

// isRoutePattern matches "/users/:id" and "GET /users" shapes.
func isRoutePattern(s string) bool {
	if strings.HasPrefix(s, "/") && len(s) > 1 && !strings.Contains(s, " ") {
		return true
	}
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "/") {
		return false
	}
	switch parts[0] {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// calleeName returns the trailing identifier of a call's callee when
// it has the given selector shape.
func calleeName(call *Node, source []byte, selectorType, idType string) string {
	if len(call.Children) == 0 {
		return ""
	}
	callee := call.Children[0]
	switch callee.Type {
	case "identifier":
		return callee.Content(source)
	case selectorType:
		return lastOf(callee, source, idType)
	}
	return ""
}

// firstStringArg returns the first string literal argument, unquoted.
func firstStringArg(call *Node, source []byte, argsType string, stringTypes ...string) string {
	args := call.Child(argsType)
	if args == nil {
		return ""
	}
	for _, arg := range args.Children {
		for _, st := range stringTypes {
			if arg.Type == st {
				return trimQuotes(arg.Content(source))
			}
		}
	}
	return ""
}

func trimQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}

// isTestPath mirrors the symbol generator's notion of a test file.
func isTestPath(p string) bool {
	base := strings.ToLower(path.Base(p))
	lower := strings.ToLower(p)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.py") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.Contains(lower, "__tests__/") ||
		strings.Contains(lower, "/tests/") ||
		strings.Contains(lower, "/test/")
}

func isTestName(name string) bool {
	return strings.HasPrefix(name, "Test") ||
		strings.HasPrefix(name, "Benchmark") ||
		strings.HasPrefix(name, "test_") ||
		strings.HasPrefix(name, "test")
}

// testSubject derives the likely subject from a test function name:
// TestLogin exercises Login, test_login exercises login.
func testSubject(name string) string {
	for _, prefix := range []string{"Test_", "Test", "Benchmark_", "Benchmark", "test_"} {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return name[len(prefix):]
		}
	}
	return ""
}
