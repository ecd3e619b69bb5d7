package intent

import (
	"regexp"

	"github.com/pampax/pampax/internal/bundle"
)

// Compiled regex patterns for intent signals and entity extraction.
// Compiled at package init for performance.
var (
	// Technical identifiers: getUserById, ParseQuery, handle_auth, MAX_RETRIES.
	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)

	// Dotted references: pkg.Func, module.sub.attr.
	dottedRefPattern = regexp.MustCompile(`^[A-Za-z_][\w]*(\.[A-Za-z_][\w]*)+$`)

	// File paths with a known source or config extension.
	filePathPattern = regexp.MustCompile(`(?i)^[\w\-\./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|css|scss|html|rs|java|kt|c|cpp|h|hpp|rb|php|swift|sh|bash|zsh|env|ini|conf)$`)

	// Error codes: ERR_CONNECTION_REFUSED, E0001, SQLITE_BUSY, NullPointerException.
	errorCodePattern = regexp.MustCompile(`^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+(Exception|Error))$`)

	// Stack trace frames: "at pkg.Func(", "File \"x.py\", line 10".
	stackFramePattern = regexp.MustCompile(`(?i)(\bat\s+[\w.$/]+\(|File "[^"]+", line \d+|goroutine \d+)`)

	// HTTP verb plus path: "GET /api/users", "POST /v1/orders/{id}".
	httpRoutePattern = regexp.MustCompile(`(?i)\b(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s+/\S+`)

	// Bare URL paths: /api/users/:id.
	urlPathPattern = regexp.MustCompile(`^/[\w\-{}:.]+(/[\w\-{}:.]+)*$`)

	// Config keys: dotted lowercase keys (server.port, log.level).
	// Lowercase-only segments keep dotted code references (pkg.Func)
	// out of this battery.
	configKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z0-9_-]+)+$`)

	// HTTP 5xx status mentioned in a query.
	httpErrorStatusPattern = regexp.MustCompile(`\b5\d{2}\b`)

	// Quoted exact phrases.
	quotedPattern = regexp.MustCompile(`^["'].*["']$`)

	// Natural language starters.
	naturalLanguagePattern = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|can|does|is|are|should|explain|describe|show|find|list)\s`)
)

// keywordWeight is the score contributed by one matched keyword.
const keywordWeight = 1.0

// patternWeight is the score contributed by one matched pattern signal.
const patternWeight = 2.0

// intentKeywords maps each intent to its signal vocabulary. Matching is
// done on lowercased whitespace-split tokens.
var intentKeywords = map[bundle.Intent][]string{
	bundle.IntentSymbol: {
		"definition", "defined", "declaration", "declare", "usages", "usage",
		"references", "callers", "callees", "implements", "implementation",
		"function", "method", "class", "struct", "interface", "type", "symbol",
		"signature", "overload",
	},
	bundle.IntentConfig: {
		"config", "configuration", "configure", "setting", "settings", "env",
		"environment", "variable", "flag", "option", "options", "yaml", "toml",
		"ini", "dotenv", "property", "properties", "default", "defaults",
	},
	bundle.IntentAPI: {
		"endpoint", "endpoints", "route", "routes", "router", "handler",
		"handlers", "api", "rest", "graphql", "grpc", "http", "request",
		"response", "middleware", "controller", "webhook", "payload",
	},
	bundle.IntentIncident: {
		"error", "errors", "panic", "crash", "crashes", "exception", "stack",
		"trace", "traceback", "bug", "fail", "fails", "failing", "failure",
		"broken", "fix", "debug", "debugging", "timeout", "regression",
		"flaky", "leak",
	},
}

// patternSignal is one regex-backed intent signal.
type patternSignal struct {
	name string
	re   *regexp.Regexp
	// exact signals match the whole query and earn the exact-match bonus.
	exact bool
}

// intentPatterns maps each intent to its regex battery.
var intentPatterns = map[bundle.Intent][]patternSignal{
	bundle.IntentSymbol: {
		{name: "camel_case", re: camelCasePattern, exact: true},
		{name: "pascal_case", re: pascalCasePattern, exact: true},
		{name: "snake_case", re: snakeCasePattern, exact: true},
		{name: "dotted_ref", re: dottedRefPattern, exact: true},
	},
	bundle.IntentConfig: {
		{name: "env_var", re: screamingSnakePattern, exact: true},
		{name: "config_key", re: configKeyPattern, exact: true},
	},
	bundle.IntentAPI: {
		{name: "http_route", re: httpRoutePattern},
		{name: "url_path", re: urlPathPattern, exact: true},
	},
	bundle.IntentIncident: {
		{name: "error_code", re: errorCodePattern, exact: true},
		{name: "stack_frame", re: stackFramePattern},
		{name: "http_5xx", re: httpErrorStatusPattern},
	},
}
