// Package scanner discovers indexable files under a repository root,
// honoring include/exclude patterns, .gitignore rules, and a blocklist
// of sensitive files that are never indexed.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize caps indexable files at 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// FileInfo is one discovered file.
type FileInfo struct {
	Path    string // relative to the repository root
	AbsPath string
	Size    int64
	ModTime time.Time
	Lang    string
}

// Result is one item on the scan stream.
type Result struct {
	File *FileInfo
	Err  error
}

// Options configures a scan.
type Options struct {
	// Root is the repository root. Defaults to ".".
	Root string
	// Include keeps only matching files when non-empty.
	Include []string
	// Exclude drops matching files and directories.
	Exclude []string
	// RespectGitignore applies .gitignore rules, including nested ones.
	RespectGitignore bool
	// MaxFileSize in bytes; zero uses DefaultMaxFileSize.
	MaxFileSize int64
	// FollowSymlinks walks through symlinked files.
	FollowSymlinks bool
}

// langByExt maps extensions to the language names the parser and the
// policy layer use.
var langByExt = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "tsx",
	".js":   "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".jsx":  "jsx",
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".kt":   "kotlin",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "shell",
	".bash": "shell",
	".sql":  "sql",

	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".ini":        "ini",
	".env":        "env",
	".properties": "properties",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",
}

// langByName covers extensionless well-known files.
var langByName = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// DetectLang maps a path to its language name, or "" when unknown.
func DetectLang(path string) string {
	base := filepath.Base(path)
	if lang, ok := langByName[base]; ok {
		return lang
	}
	if lang, ok := langByExt[strings.ToLower(filepath.Ext(base))]; ok {
		return lang
	}
	return ""
}
