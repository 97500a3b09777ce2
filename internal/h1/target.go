package h1

import "strings"

// decodeUnreservedEscapes canonicalises only the four unreserved
// percent-escapes (%7E ~, %5F _, %2E ., %2D -); every other
// percent-encoded byte, including ones that happen to decode to ASCII,
// is left untouched so the application sees exactly what the peer
// sent. This is deliberately narrower than full percent-decoding: the
// query string is never touched here, only the path segment, since
// query parameter semantics vary per route and belong to the handler.
func decodeUnreservedEscapes(target string) string {
	path, rest, hasQuery := cutQuery(target)
	decoded := decodePathUnreserved(path)
	if hasQuery {
		return decoded + "?" + rest
	}
	return decoded
}

func cutQuery(target string) (path, rest string, ok bool) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:], true
	}
	return target, "", false
}

var unreservedEscapes = map[string]byte{
	"%7E": '~', "%7e": '~',
	"%5F": '_', "%5f": '_',
	"%2E": '.', "%2e": '.',
	"%2D": '-', "%2d": '-',
}

func decodePathUnreserved(path string) string {
	if !strings.Contains(path, "%") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '%' && i+2 < len(path) {
			if c, ok := unreservedEscapes[path[i:i+3]]; ok {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

// absoluteFormAuthority reports whether target is an absolute-form URI
// without a scheme but with an authority component — e.g. "x.example
// .com/path" sent in the request line rather than "/path" with a Host
// header. Detects the RedirectRequired case from §7.
func absoluteFormAuthority(target string) (authority string, path string, ok bool) {
	if strings.HasPrefix(target, "/") {
		return "", "", false
	}
	if strings.Contains(target, "://") {
		// Proper absolute-form with scheme; not the ambiguous case
		// this function targets.
		return "", "", false
	}
	slash := strings.IndexByte(target, '/')
	authority = target
	path = "/"
	if slash >= 0 {
		authority = target[:slash]
		path = target[slash:]
	}
	if authority == "" || strings.ContainsAny(authority, " \t") {
		return "", "", false
	}
	return authority, path, true
}
