package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"mixed_caseName", []string{"mixed", "case", "Name"}},
		{"simple", []string{"simple"}},
		{"UPPER", []string{"UPPER"}},
		{"sha256", []string{"sha256"}},
		{"__dunder__", []string{"dunder"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitIdentifier(tt.in))
		})
	}
}

func TestBuildMatchQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain words", "database config", `"database" "config"`},
		{"camel term expands", "getUserById", `("getUserById" OR "get User By Id")`},
		{"mixed", "fix getUserById now", `"fix" ("getUserById" OR "get User By Id") "now"`},
		{"quotes stripped", `"hello"`, `"hello"`},
		{"operators quoted", "a AND b", `"a" "AND" "b"`},
		{"empty", "   ", ""},
		{"punctuation only", "(((", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildMatchQuery(tt.in))
		})
	}
}
