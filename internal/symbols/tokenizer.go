package symbols

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

// nameTokenizerName is the registry name of the identifier tokenizer.
const nameTokenizerName = "symbol_name_tokenizer"

// minWordLen drops fragments too short to carry meaning on their own.
const minWordLen = 2

func init() {
	_ = registry.RegisterTokenizer(nameTokenizerName, nameTokenizerConstructor)
}

func nameTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &nameTokenizer{}, nil
}

// nameTokenizer splits identifiers into their word parts so a query can
// reach a symbol through any of its components.
type nameTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *nameTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	words := splitName(text)

	stream := make(analysis.TokenStream, 0, len(words))
	pos := 1
	offset := 0
	for _, w := range words {
		// Locate each word in the original text; the split preserves
		// order, so a forward case-insensitive scan finds it.
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(w))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(w)

		stream = append(stream, &analysis.Token{
			Term:     []byte(w),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

// splitName breaks an identifier into word parts: punctuation and
// underscores separate first, then camelCase boundaries. Fragments
// shorter than minWordLen are dropped.
func splitName(name string) []string {
	var out []string
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for _, part := range splitCamel(w) {
			if len(part) >= minWordLen {
				out = append(out, part)
			}
		}
	}
	return out
}

func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// A boundary sits before an upper rune that starts or ends
			// a lowercase run; mid-acronym uppers stay attached.
			if prevLower || nextLower {
				if current.Len() > 0 {
					parts = append(parts, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
