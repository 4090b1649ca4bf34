// Package jsondoc is the JSON-document primitive: path-addressed reads and
// mutations over Object-rooted documents stored in the unified store's KV
// keyspace, with path-granular conflict domains.
package jsondoc

import (
	"strconv"
	"strings"

	"github.com/stratadb/stratadb/pkg/errs"
)

// Pointer is a parsed path in the strict JSON-Pointer-like subset: "" is
// the document root, "/a/b/0" descends fields and array indices, and "-"
// (append) is legal only as the final segment of a set.
type Pointer struct {
	raw  string
	segs []string
}

// ParsePointer validates and splits path.
func ParsePointer(path string) (Pointer, error) {
	if path == "" {
		return Pointer{raw: path}, nil
	}
	if !strings.HasPrefix(path, "/") {
		return Pointer{}, errs.InvalidPath(path)
	}
	segs := strings.Split(path[1:], "/")
	for i, s := range segs {
		segs[i] = unescape(s)
	}
	return Pointer{raw: path, segs: segs}, nil
}

// unescape applies the two RFC 6901 escapes: ~1 is '/', ~0 is '~'. Order
// matters: ~1 first, or "~01" would wrongly become "/".
func unescape(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// String returns the original path text.
func (p Pointer) String() string { return p.raw }

// IsRoot reports whether p addresses the whole document.
func (p Pointer) IsRoot() bool { return len(p.segs) == 0 }

// Segments returns the decoded path segments.
func (p Pointer) Segments() []string { return p.segs }

// isIndex reports whether seg addresses an array position: a non-negative
// decimal integer with no leading zeros (except "0" itself), or the append
// marker "-".
func isIndex(seg string) (int, bool, bool) {
	if seg == "-" {
		return 0, true, true
	}
	if seg == "" {
		return 0, false, false
	}
	if len(seg) > 1 && seg[0] == '0' {
		return 0, false, false
	}
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false, false
	}
	return n, false, true
}
