package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID returns a short request id for log correlation.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:10]
}

// closers pairs each opening quote with the rune that ends it. Phone
// keyboards insert typographic quotes, so those group words too.
var closers = map[rune]rune{
	'"': '"',
	'\'': '\'',
	'“': '”',
	'„': '“',
	'‘': '’',
	'«': '»',
}

// tokenizeCommandLine splits command text on whitespace. Quotes group
// words and a backslash takes the next rune literally:
//
//	/add title=“Karaoke night” date=8/18
func tokenizeCommandLine(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		open  bool // a token has started, possibly empty ("")
		quote rune // closing rune while inside quotes
		esc   bool
	)
	for _, r := range s {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc, open = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				buf.WriteRune(r)
			}
		case closers[r] != 0:
			quote, open = closers[r], true
		case unicode.IsSpace(r):
			if open {
				out = append(out, buf.String())
				buf.Reset()
				open = false
			}
		default:
			buf.WriteRune(r)
			open = true
		}
	}
	if open {
		out = append(out, buf.String())
	}
	return out
}

// flagKey reports whether k can be the key of key=value: lower-case
// letters, digits and underscores, starting with a letter.
func flagKey(k string) bool {
	for i, c := range k {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			return false
		}
	}
	return k != ""
}

// parseFlags separates positionals from flags. key=value and --key=value
// set a flag (keys are lower-cased, an empty value is kept); a bare
// --key sets a boolean. Everything else, negative chat ids and URLs with
// query strings included, stays positional.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags, bools = map[string]string{}, map[string]bool{}
	for _, a := range args {
		body, dashed := strings.CutPrefix(a, "--")
		key, val, hasEq := strings.Cut(body, "=")
		key = strings.ToLower(key)
		switch {
		case hasEq && flagKey(key):
			flags[key] = val
		case dashed && !hasEq && flagKey(key):
			bools[key] = true
		default:
			pos = append(pos, a)
		}
	}
	return pos, flags, bools
}
