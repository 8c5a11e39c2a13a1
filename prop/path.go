package prop

import (
	"strconv"
	"strings"
)

// Canonicalize normalizes a property path: leading slashes are dropped and
// every bracketed `name[expr]` segment, where expr is a non-negative integer
// or `*`, is replaced by expr alone.
//
//	Canonicalize("//foo")                      == "foo"
//	Canonicalize("foo/gee[0]/bar/baz[*]/moo")  == "foo/0/bar/*/moo"
//
// Canonicalize is idempotent.
func Canonicalize(path string) string {
	return strings.Join(Segments(path), "/")
}

// Segments returns the canonical segments of path.
func Segments(path string) []string {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s == "" {
			continue
		}
		segs = append(segs, canonicalSegment(s))
	}
	return segs
}

func canonicalSegment(s string) string {
	i := strings.IndexByte(s, '[')
	if i < 0 || !strings.HasSuffix(s, "]") {
		return s
	}
	// a qualifier survives the rewrite: "tp:list[0]" is "tp:0"
	var q string
	if c := strings.IndexByte(s[:i], ':'); c >= 0 {
		q = s[:c+1]
	}
	expr := s[i+1 : len(s)-1]
	if expr == Wildcard {
		return q + expr
	}
	if _, ok := parseIndex(expr); ok {
		return q + expr
	}
	return s
}

// Wildcard is the canonical segment matching every item of a list.
const Wildcard = "*"

// SplitQualified splits "prefix:rest" into its qualifier and the remaining
// canonical path. Paths without a qualifier return q == "".
func SplitQualified(path string) (q string, rest string) {
	path = Canonicalize(path)
	first, tail, _ := strings.Cut(path, "/")
	if q, name, ok := strings.Cut(first, ":"); ok {
		if tail == "" {
			return q, name
		}
		return q, name + "/" + tail
	}
	return "", path
}

func parseIndex(s string) (int, bool) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "/" + seg
}
