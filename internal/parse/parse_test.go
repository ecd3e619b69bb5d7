package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
)

const goFixture = `package auth

import (
	"context"
	"os"
)

// Login authenticates a user against the directory.
func Login(ctx context.Context, name string) error {
	dsn := os.Getenv("DB_URL")
	return verify(ctx, dsn, name)
}

func verify(ctx context.Context, dsn, name string) error {
	return nil
}

type Store interface {
	Lookup(name string) error
}

const MaxRetries = 3
`

func parseFixture(t *testing.T, path, content string) *Result {
	t.Helper()
	p := New()
	t.Cleanup(p.Close)

	res, err := p.File(context.Background(), FileInput{
		Repo:    "app",
		Path:    path,
		Content: []byte(content),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func spanByName(res *Result, name string) *bundle.Span {
	for _, sp := range res.Spans {
		if sp.Name == name {
			return sp
		}
	}
	return nil
}

func refTargets(res *Result, kind bundle.EdgeKind) []string {
	var out []string
	for _, r := range res.Refs {
		if r.Kind == kind {
			out = append(out, r.Target)
		}
	}
	return out
}

func TestFile_GoSpans(t *testing.T) {
	// Given / When
	res := parseFixture(t, "internal/auth/login.go", goFixture)

	// Then: one span per declaration plus the module header
	require.False(t, res.Fallback)
	assert.Equal(t, "go", res.Lang)

	mod := spanByName(res, "auth")
	require.NotNil(t, mod)
	assert.Equal(t, bundle.KindModule, mod.Kind)

	login := spanByName(res, "Login")
	require.NotNil(t, login)
	assert.Equal(t, bundle.KindFunction, login.Kind)
	assert.Equal(t, "func Login(ctx context.Context, name string) error", login.Signature)
	assert.Equal(t, "Login authenticates a user against the directory.", login.Doc)
	assert.True(t, login.Valid())

	store := spanByName(res, "Store")
	require.NotNil(t, store)
	assert.Equal(t, bundle.KindInterface, store.Kind)

	retries := spanByName(res, "MaxRetries")
	require.NotNil(t, retries)
	assert.Equal(t, bundle.KindConstant, retries.Kind)
}

func TestFile_GoDocCommentCoveredBySpan(t *testing.T) {
	// Given / When
	res := parseFixture(t, "internal/auth/login.go", goFixture)

	// Then: the span starts at its doc comment so chunk content
	// carries it
	login := spanByName(res, "Login")
	require.NotNil(t, login)

	var chunk *bundle.Chunk
	for _, c := range res.Chunks {
		if c.SpanID == login.ID {
			chunk = c
		}
	}
	require.NotNil(t, chunk)
	assert.Contains(t, chunk.Content, "// Login authenticates")
	assert.Contains(t, chunk.Content, "// File: internal/auth/login.go")
	assert.Contains(t, chunk.Content, "package auth")
}

func TestFile_GoRefs(t *testing.T) {
	// Given / When
	res := parseFixture(t, "internal/auth/login.go", goFixture)

	// Then: calls, env reads, and imports all surface as raw refs
	assert.Contains(t, refTargets(res, bundle.EdgeCall), "verify")
	assert.Contains(t, refTargets(res, bundle.EdgeConfigKey), "DB_URL")
	imports := refTargets(res, bundle.EdgeImport)
	assert.Contains(t, imports, "os")
	assert.Contains(t, imports, "context")
}

func TestFile_TestFileEmitsTestOfRefs(t *testing.T) {
	// Given: a test exercising Login
	src := `package auth

import "testing"

func TestLogin(t *testing.T) {
	Login(nil, "alice")
}
`
	// When
	res := parseFixture(t, "internal/auth/login_test.go", src)

	// Then
	targets := refTargets(res, bundle.EdgeTestOf)
	assert.Contains(t, targets, "Login")

	// And: the higher-confidence call-derived edge wins the dedup
	for _, r := range res.Refs {
		if r.Kind == bundle.EdgeTestOf && r.Target == "Login" {
			assert.InDelta(t, confTestOf, r.Confidence, 1e-9)
		}
	}
}

func TestFile_GoRouteRefs(t *testing.T) {
	// Given: a mux wiring a path to a handler
	src := `package api

func routes(r Router) {
	r.HandleFunc("/users", listUsers)
}

func listUsers() {}
`
	// When
	res := parseFixture(t, "internal/api/routes.go", src)

	// Then
	assert.Contains(t, refTargets(res, bundle.EdgeRoutes), "listUsers")
}

func TestFile_PythonClassAndMethod(t *testing.T) {
	// Given
	src := `import os

class UserService:
    """Service facade for user lookups."""

    def get_user(self, user_id):
        """Load one user by id."""
        return self.db.fetch(user_id)
`
	// When
	res := parseFixture(t, "src/services/users.py", src)

	// Then: the method nests under its class
	svc := spanByName(res, "UserService")
	require.NotNil(t, svc)
	assert.Equal(t, bundle.KindClass, svc.Kind)
	assert.Equal(t, "Service facade for user lookups.", svc.Doc)

	method := spanByName(res, "get_user")
	require.NotNil(t, method)
	assert.Equal(t, bundle.KindMethod, method.Kind)
	assert.Equal(t, []string{"UserService"}, method.Parents)
	assert.Equal(t, "Load one user by id.", method.Doc)
	assert.Equal(t, "def get_user(self, user_id):", method.Signature)
}

func TestFile_TypeScriptArrowFunction(t *testing.T) {
	// Given: a const binding an arrow function
	src := `const handler = (req: Request) => {
	return null
}
`
	// When
	res := parseFixture(t, "web/src/handler.ts", src)

	// Then: classified as a function, not a constant
	sp := spanByName(res, "handler")
	require.NotNil(t, sp)
	assert.Equal(t, bundle.KindFunction, sp.Kind)
}

func TestFile_TomlConfigKeys(t *testing.T) {
	// Given
	src := `[database]
url = "postgres://localhost/app"
pool_size = 10

[cache]
ttl = "5m"
`
	// When
	res := parseFixture(t, "config/database.toml", src)

	// Then: keys become addressable spans
	require.True(t, res.Fallback)
	assert.Equal(t, "toml", res.Lang)

	url := spanByName(res, "database.url")
	require.NotNil(t, url)
	assert.Equal(t, bundle.KindConstant, url.Kind)

	ttl := spanByName(res, "cache.ttl")
	require.NotNil(t, ttl)

	var chunk *bundle.Chunk
	for _, c := range res.Chunks {
		if c.SpanID == url.ID {
			chunk = c
		}
	}
	require.NotNil(t, chunk)
	assert.Contains(t, chunk.Content, "# File: config/database.toml")
	assert.Contains(t, chunk.Content, "url = ")
}

func TestFile_YamlNestedKeys(t *testing.T) {
	// Given
	src := `server:
  host: localhost
  port: 8080
logging:
  level: info
`
	// When
	res := parseFixture(t, "config/app.yaml", src)

	// Then
	assert.NotNil(t, spanByName(res, "server.host"))
	assert.NotNil(t, spanByName(res, "server.port"))
	assert.NotNil(t, spanByName(res, "logging.level"))
}

func TestFile_PlainTextFallsBackToWindows(t *testing.T) {
	// Given
	src := "release checklist\n- tag the build\n- run the smoke suite\n"

	// When
	res := parseFixture(t, "docs/release.txt", src)

	// Then
	require.True(t, res.Fallback)
	require.NotEmpty(t, res.Spans)
	assert.Equal(t, bundle.KindModule, res.Spans[0].Kind)
	require.NotEmpty(t, res.Chunks)
	assert.Contains(t, res.Chunks[0].Content, "release checklist")
}

func TestFile_DeterministicIDs(t *testing.T) {
	// Given / When: the same file parsed twice
	a := parseFixture(t, "internal/auth/login.go", goFixture)
	b := parseFixture(t, "internal/auth/login.go", goFixture)

	// Then: span and chunk ids are byte-equal across runs
	require.Equal(t, len(a.Spans), len(b.Spans))
	for i := range a.Spans {
		assert.Equal(t, a.Spans[i].ID, b.Spans[i].ID)
	}
	require.Equal(t, len(a.Chunks), len(b.Chunks))
	for i := range a.Chunks {
		assert.Equal(t, a.Chunks[i].ID, b.Chunks[i].ID)
	}
}

func TestFile_EmptyContent(t *testing.T) {
	p := New()
	defer p.Close()

	res, err := p.File(context.Background(), FileInput{Repo: "app", Path: "empty.go"})
	require.NoError(t, err)
	assert.Empty(t, res.Spans)
	assert.Empty(t, res.Chunks)
}

func TestFile_MissingRepoRejected(t *testing.T) {
	p := New()
	defer p.Close()

	_, err := p.File(context.Background(), FileInput{Path: "x.go", Content: []byte("package x")})
	require.Error(t, err)
}

func TestDetect(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		path string
		want string
	}{
		{"a/b.go", "go"},
		{"a/b.ts", "typescript"},
		{"a/b.tsx", "tsx"},
		{"a/b.jsx", "jsx"},
		{"a/b.py", "python"},
		{"a/b.toml", ""},
		{"a/b", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Detect(tt.path))
		})
	}
}
