package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"camelCase", "getUserById", []string{"get", "User", "By", "Id"}},
		{"snake_case", "get_user_by_id", []string{"get", "user", "by", "id"}},
		{"PascalCase", "UserRepository", []string{"User", "Repository"}},
		{"acronym prefix", "HTTPHandler", []string{"HTTP", "Handler"}},
		{"acronym middle", "parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"dotted", "pkg.Func", []string{"pkg", "Func"}},
		{"digits", "utf8Decode", []string{"utf8", "Decode"}},
		{"short fragments dropped", "aB", nil},
		{"single char", "x", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitName(tt.input))
		})
	}
}

func TestNameTokenizer_TermsAndOffsets(t *testing.T) {
	// Given: a camelCase identifier
	tok := &nameTokenizer{}

	// When: tokenizing
	stream := tok.Tokenize([]byte("getUserById"))

	// Then: each word part carries its term, offsets, and position
	require.Len(t, stream, 4)

	wantTerms := []string{"get", "User", "By", "Id"}
	wantStart := []int{0, 3, 7, 9}
	wantEnd := []int{3, 7, 9, 11}
	for i, token := range stream {
		assert.Equal(t, wantTerms[i], string(token.Term))
		assert.Equal(t, wantStart[i], token.Start)
		assert.Equal(t, wantEnd[i], token.End)
		assert.Equal(t, i+1, token.Position)
	}
}

func TestNameTokenizer_EmptyInput(t *testing.T) {
	tok := &nameTokenizer{}
	assert.Empty(t, tok.Tokenize(nil))
}
