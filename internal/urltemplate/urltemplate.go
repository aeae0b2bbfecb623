// Package urltemplate renders affiliate URL templates of the form
// https://x.com/go?click_id={click_id}&ref={ref} by substituting named
// tokens. Rendering is pure: no I/O, and malformed templates still
// produce a best-effort result.
package urltemplate

import (
	"errors"
	"net/url"
	"strings"
)

// Token names every caller can rely on being understood.
const (
	TokenClickID  = "click_id"
	TokenSurveyID = "survey_id"
)

// ErrMalformedTemplate reports an unterminated {token in the template.
// The rendered string returned alongside it is still usable.
var ErrMalformedTemplate = errors.New("urltemplate: unterminated token")

// Value is a single substitution value. Raw values are inserted verbatim;
// everything else is URL-component-escaped.
type Value struct {
	Data string
	Raw  bool
}

// Escaped wraps a value that should be query-escaped on insertion.
func Escaped(s string) Value { return Value{Data: s} }

// Raw wraps a value already known to be a valid URL fragment.
func Raw(s string) Value { return Value{Data: s, Raw: true} }

// Values converts a plain string map into escaped substitution values.
func Values(m map[string]string) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = Escaped(v)
	}
	return out
}

// Render substitutes {token} placeholders in tmpl with the supplied values.
// Tokens without a value are left literally in place, so callers must
// tolerate partially resolved URLs. An unterminated token yields
// ErrMalformedTemplate together with the best-effort rendering.
func Render(tmpl string, values map[string]Value) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	var malformed bool
	for i := 0; i < len(tmpl); {
		open := strings.IndexByte(tmpl[i:], '{')
		if open < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		open += i
		b.WriteString(tmpl[i:open])

		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			malformed = true
			b.WriteString(tmpl[open:])
			break
		}
		end += open

		name := tmpl[open+1 : end]
		if !validTokenName(name) {
			// Not a token, e.g. "{}" or braces around arbitrary text.
			b.WriteString(tmpl[open : end+1])
			i = end + 1
			continue
		}

		v, ok := values[name]
		if !ok {
			b.WriteString(tmpl[open : end+1])
			i = end + 1
			continue
		}

		if v.Raw {
			b.WriteString(v.Data)
		} else {
			b.WriteString(url.QueryEscape(v.Data))
		}
		i = end + 1
	}

	if malformed {
		return b.String(), ErrMalformedTemplate
	}
	return b.String(), nil
}

func validTokenName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
