// Package gitignore compiles .gitignore pattern lists into the
// matchers the scanner and watcher consult while walking a repository.
// Semantics follow https://git-scm.com/docs/gitignore: later patterns
// win, "!" re-includes, a trailing "/" restricts a pattern to
// directories, and a leading or inner "/" anchors it to the directory
// of the .gitignore that declared it.
package gitignore

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pampax/pampax/internal/errors"
)

// Matcher holds an ordered list of compiled patterns. Matching is safe
// for concurrent use; adding patterns takes the write lock.
type Matcher struct {
	mu       sync.RWMutex
	patterns []pattern
}

// pattern is one compiled .gitignore line.
type pattern struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
	rooted  bool
	// base scopes a nested .gitignore's patterns to its own subtree,
	// as a slash path relative to the walk root.
	base string
}

// New returns an empty matcher; with no patterns it matches nothing.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern appends one pattern line scoped to the walk root. Blank
// lines and comments are dropped.
func (m *Matcher) AddPattern(line string) {
	m.addPattern(line, "")
}

func (m *Matcher) addPattern(line, base string) {
	p, ok := compile(line, base)
	if !ok {
		return
	}
	m.mu.Lock()
	m.patterns = append(m.patterns, p)
	m.mu.Unlock()
}

// AddFromFile reads a .gitignore file, scoping its patterns under base.
// The root file uses an empty base; a nested one passes its directory
// relative to the root.
func (m *Matcher) AddFromFile(path, base string) error {
	const op = "gitignore.AddFromFile"

	f, err := os.Open(path)
	if err != nil {
		kind := errors.KindInternal
		if os.IsNotExist(err) {
			kind = errors.KindNotFound
		}
		return errors.Wrap(kind, op, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.addPattern(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// Match reports whether the path, given slash- or OS-separated relative
// to the walk root, is ignored. The last matching pattern decides.
func (m *Matcher) Match(path string, isDir bool) bool {
	rel := filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, p := range m.patterns {
		if p.matches(rel, isDir) {
			ignored = !p.negate
		}
	}
	return ignored
}

func (p pattern) matches(rel string, isDir bool) bool {
	if p.base != "" {
		switch {
		case rel == p.base:
			rel = rel[strings.LastIndexByte(rel, '/')+1:]
		case strings.HasPrefix(rel, p.base+"/"):
			rel = rel[len(p.base)+1:]
		default:
			return false
		}
	}
	segs := strings.Split(rel, "/")

	if p.rooted {
		if p.re.MatchString(rel) {
			return !p.dirOnly || isDir
		}
		if p.dirOnly {
			// A rooted directory pattern also covers everything inside
			// the directory it names.
			for i := 1; i < len(segs); i++ {
				if p.re.MatchString(strings.Join(segs[:i], "/")) {
					return true
				}
			}
		}
		return false
	}

	if p.dirOnly {
		// "temp/" ignores a temp directory at any depth and its
		// contents; a plain file named temp stays.
		for i, seg := range segs {
			if p.re.MatchString(seg) {
				return i < len(segs)-1 || isDir
			}
		}
		return false
	}

	if p.re.MatchString(segs[len(segs)-1]) || p.re.MatchString(rel) {
		return true
	}
	for _, seg := range segs {
		if p.re.MatchString(seg) {
			return true
		}
	}
	return false
}

// compile parses one .gitignore line. The second return is false for
// blank lines and comments.
func compile(line, base string) (pattern, bool) {
	// "\ " at the end survives trimming as a literal space.
	keepSpace := strings.HasSuffix(line, `\ `)
	line = strings.TrimSpace(line)
	if line == "" || (strings.HasPrefix(line, "#") && !strings.HasPrefix(line, `\#`)) {
		return pattern{}, false
	}

	p := pattern{base: base}
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		p.negate = true
		line = line[1:]
	}
	if keepSpace && strings.HasSuffix(line, `\`) {
		line = line[:len(line)-1] + " "
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = line[:len(line)-1]
	}
	if strings.HasPrefix(line, "/") {
		p.rooted = true
		line = line[1:]
	}
	// An inner slash anchors too: "doc/frotz" means "/doc/frotz", not
	// "**/doc/frotz".
	if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") && !strings.HasPrefix(line, "*") {
		p.rooted = true
	}

	p.re = regexp.MustCompile("^" + translate(line) + "$")
	return p, true
}

// translate turns a .gitignore glob into a regular expression: "*" and
// "?" stop at slashes, "**" crosses them.
func translate(glob string) string {
	var re strings.Builder
	for i := 0; i < len(glob); {
		switch c := glob[i]; c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					// "**/" spans any number of leading directories.
					re.WriteString("(?:.*/)?")
					i += 3
					continue
				}
				if i == 0 || glob[i-1] == '/' {
					// A trailing "**" matches everything below.
					re.WriteString(".*")
					i += 2
					continue
				}
			}
			re.WriteString("[^/]*")
			i++
		case '?':
			re.WriteString("[^/]")
			i++
		case '[':
			if j := strings.IndexByte(glob[i+1:], ']'); j >= 0 {
				re.WriteString(glob[i : i+j+2])
				i += j + 2
			} else {
				re.WriteString(regexp.QuoteMeta("["))
				i++
			}
		case '\\':
			if i+1 < len(glob) {
				re.WriteString(regexp.QuoteMeta(string(glob[i+1])))
				i += 2
			} else {
				re.WriteString(regexp.QuoteMeta(`\`))
				i++
			}
		default:
			re.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return re.String()
}
