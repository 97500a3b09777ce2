package handler

import (
	"net/url"
	"regexp"
	"strings"
)

// Matcher compiles a uri_template (§6.2) into a regular expression plus
// the capture names in positional order. Templates support plain
// literal segments, {name} (matches one path segment, any non-slash
// bytes) and {name: regex} (matches the given regex instead).
// Matrix parameters (;k=v) are retained verbatim on whatever segment
// carries them rather than stripped before matching, since the spec
// names them as retained rather than parsed out at the routing layer.
type Matcher struct {
	re    *regexp.Regexp
	names []string
}

var templateVar = regexp.MustCompile(`\{([^:}]+)(?::([^}]+))?\}`)

func compileMatcher(template string) *Matcher {
	var names []string
	var b strings.Builder
	b.WriteByte('^')
	last := 0
	for _, loc := range templateVar.FindAllStringSubmatchIndex(template, -1) {
		b.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		name := template[loc[2]:loc[3]]
		names = append(names, name)
		if loc[4] >= 0 {
			b.WriteString("(" + strings.TrimSpace(template[loc[4]:loc[5]]) + ")")
		} else {
			b.WriteString(`([^/]+)`)
		}
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(template[last:]))
	b.WriteByte('$')
	return &Matcher{re: regexp.MustCompile(b.String()), names: names}
}

// Match reports whether path satisfies the template, and if so returns
// the captured segments keyed by template variable name, URL-decoded.
//
// Route matching is exact: a registered "/widgets" does not also match
// "/widgets/" -- no trailing-slash normalization is applied, since a
// request target should never be silently rewritten before matching.
func (m *Matcher) Match(path string) (map[string]string, bool) {
	groups := m.re.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	out := make(map[string]string, len(m.names))
	for i, name := range m.names {
		val := groups[i+1]
		if decoded, err := url.PathUnescape(val); err == nil {
			val = decoded
		}
		out[name] = val
	}
	return out, true
}
