package txn

import "strings"

// pathsOverlap reports whether a and b name overlapping subtrees of a JSON
// document, at "/"-separated segment granularity: "/a/b" overlaps "/a" (a
// write to /a touches everything under it, including /a/b) and overlaps
// itself, but "/a/b" and "/a/c" do not overlap. The root path "" overlaps
// everything.
func pathsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	as := splitPath(a)
	bs := splitPath(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// anyOverlap reports whether some path in reads overlaps some path in writes.
func anyOverlap(reads, writes []string) bool {
	for _, r := range reads {
		for _, w := range writes {
			if pathsOverlap(r, w) {
				return true
			}
		}
	}
	return false
}
