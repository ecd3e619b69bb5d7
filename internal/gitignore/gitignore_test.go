package gitignore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/errors"
)

func matcherOf(lines ...string) *Matcher {
	m := New()
	for _, l := range lines {
		m.AddPattern(l)
	}
	return m
}

func TestMatch_PatternForms(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		isDir    bool
		want     bool
	}{
		{"literal basename anywhere", []string{"secret.txt"}, "a/b/secret.txt", false, true},
		{"star stops at slash", []string{"*.log"}, "build/out.log", false, true},
		{"star does not cross slash", []string{"build*.log"}, "build/x.log", false, false},
		{"question mark", []string{"file?.go"}, "file1.go", false, true},
		{"question mark needs a char", []string{"file?.go"}, "file.go", false, false},
		{"char class", []string{"v[0-9].txt"}, "v3.txt", false, true},
		{"char class miss", []string{"v[0-9].txt"}, "vx.txt", false, false},
		{"double star prefix", []string{"**/dist"}, "pkg/web/dist", true, true},
		{"double star mid", []string{"a/**/b"}, "a/x/y/b", false, true},
		{"double star mid collapses", []string{"a/**/b"}, "a/b", false, true},
		{"trailing double star", []string{"vendor/**"}, "vendor/x/y.go", false, true},
		{"rooted hits root only", []string{"/build"}, "build", true, true},
		{"rooted misses nested", []string{"/build"}, "sub/build", true, false},
		{"inner slash anchors", []string{"doc/frotz"}, "doc/frotz", false, true},
		{"inner slash anchors from root", []string{"doc/frotz"}, "a/doc/frotz", false, false},
		{"dir-only matches dir", []string{"temp/"}, "temp", true, true},
		{"dir-only skips file", []string{"temp/"}, "temp", false, false},
		{"dir-only covers contents", []string{"temp/"}, "temp/cache.bin", false, true},
		{"rooted dir covers contents", []string{"/build/"}, "build/a/b.o", false, true},
		{"no patterns", nil, "anything", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := matcherOf(tt.patterns...)
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatch_NegationLastWins(t *testing.T) {
	// Given: an ignore with a re-include after it
	m := matcherOf("*.log", "!keep.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))

	// When: a later pattern ignores it again
	m.AddPattern("keep.log")

	// Then: the last match decides
	assert.True(t, m.Match("keep.log", false))
}

func TestMatch_CommentsAndEscapes(t *testing.T) {
	m := matcherOf(
		"# a comment, not a pattern",
		`\#literal-hash`,
		`\!literal-bang`,
		`trailing\ `,
		"   ",
	)

	assert.False(t, m.Match("# a comment, not a pattern", false))
	assert.True(t, m.Match("#literal-hash", false))
	assert.True(t, m.Match("!literal-bang", false))
	assert.True(t, m.Match("trailing ", false))
	assert.False(t, m.Match("trailing", false))
}

func TestMatch_WindowsSeparators(t *testing.T) {
	m := matcherOf("build/")
	assert.True(t, m.Match(filepath.Join("build", "out.o"), false))
}

func TestAddFromFile_ScopesNestedPatterns(t *testing.T) {
	// Given: a root .gitignore and one nested under vendor/
	dir := t.TempDir()
	root := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(root, []byte("*.log\n\n# junk\ntmp/\n"), 0o644))
	nested := filepath.Join(dir, "sub.gitignore")
	require.NoError(t, os.WriteFile(nested, []byte("generated/\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(root, ""))
	require.NoError(t, m.AddFromFile(nested, "vendor"))

	// Then: root patterns apply everywhere, nested ones only below base
	assert.True(t, m.Match("deep/in/tree.log", false))
	assert.True(t, m.Match("tmp/scratch", false))
	assert.True(t, m.Match("vendor/generated/api.go", false))
	assert.False(t, m.Match("other/generated/api.go", false))
}

func TestAddFromFile_Missing(t *testing.T) {
	err := New().AddFromFile(filepath.Join(t.TempDir(), "nope"), "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestMatch_ConcurrentUse(t *testing.T) {
	m := matcherOf("*.log")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.AddPattern("extra.txt")
		}()
		go func() {
			defer wg.Done()
			_ = m.Match("a/b.log", false)
		}()
	}
	wg.Wait()

	assert.True(t, m.Match("extra.txt", false))
}

func TestMatch_TypicalRepoIgnore(t *testing.T) {
	m := matcherOf(
		"node_modules/",
		"dist/",
		"*.swp",
		".env*",
		"!.env.example",
		"coverage/**",
	)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"node_modules", true, true},
		{"web/node_modules/react/index.js", false, true},
		{"dist/bundle.js", false, true},
		{"src/main.go.swp", false, true},
		{".env.local", false, true},
		{".env.example", false, false},
		{"coverage/html/index.html", false, true},
		{"src/main.go", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir), tt.path)
	}
}
