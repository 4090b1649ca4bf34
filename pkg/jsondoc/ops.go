package jsondoc

import (
	"strconv"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/value"
)

// ops.go holds the pure document transformations: every function takes a
// document and returns a new one, structurally sharing nothing with the
// input along the mutated path so snapshot readers never observe a
// half-applied patch.

// getAt resolves p inside doc.
func getAt(doc value.Value, p Pointer) (value.Value, error) {
	cur := doc
	for _, seg := range p.segs {
		switch cur.Kind() {
		case value.KindObject:
			obj, _ := cur.AsObject()
			next, ok := obj[seg]
			if !ok {
				return value.Value{}, errs.NotFound(p.raw)
			}
			cur = next
		case value.KindArray:
			arr, _ := cur.AsArray()
			idx, appendMarker, ok := isIndex(seg)
			if !ok || appendMarker {
				return value.Value{}, errs.InvalidPath(p.raw)
			}
			if idx >= len(arr) {
				return value.Value{}, errs.NotFound(p.raw)
			}
			cur = arr[idx]
		default:
			return value.Value{}, errs.InvalidPath(p.raw)
		}
	}
	return cur, nil
}

// setAt returns doc with p replaced by v. Missing intermediate objects are
// auto-created only when the following segment is a field name — an array
// can never be conjured implicitly. "-" appends and is legal only as the
// final segment. A root set must leave the root an Object.
func setAt(doc value.Value, p Pointer, v value.Value) (value.Value, error) {
	if p.IsRoot() {
		if v.Kind() != value.KindObject {
			return value.Value{}, errs.ConstraintViolation("root_not_object")
		}
		return v, nil
	}
	if doc.Kind() == value.KindNull {
		// Setting into an absent document starts from an empty root object.
		doc = value.Object(nil)
	}
	return setSegs(doc, p, p.segs, v)
}

func setSegs(cur value.Value, p Pointer, segs []string, v value.Value) (value.Value, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch cur.Kind() {
	case value.KindObject:
		obj, _ := cur.AsObject()
		out := make(map[string]value.Value, len(obj)+1)
		for k, e := range obj {
			out[k] = e
		}
		if last {
			out[seg] = v
			return value.Object(out), nil
		}
		child, ok := obj[seg]
		if !ok {
			next := segs[1]
			if _, _, isIdx := isIndex(next); isIdx {
				return value.Value{}, errs.InvalidPath(p.raw)
			}
			child = value.Object(nil)
		}
		newChild, err := setSegs(child, p, segs[1:], v)
		if err != nil {
			return value.Value{}, err
		}
		out[seg] = newChild
		return value.Object(out), nil

	case value.KindArray:
		arr, _ := cur.AsArray()
		idx, appendMarker, ok := isIndex(seg)
		if !ok {
			return value.Value{}, errs.InvalidPath(p.raw)
		}
		if appendMarker {
			if !last {
				return value.Value{}, errs.InvalidPath(p.raw)
			}
			out := make([]value.Value, len(arr)+1)
			copy(out, arr)
			out[len(arr)] = v
			return value.Array(out...), nil
		}
		if idx >= len(arr) {
			return value.Value{}, errs.InvalidPath(p.raw)
		}
		out := make([]value.Value, len(arr))
		copy(out, arr)
		if last {
			out[idx] = v
			return value.Array(out...), nil
		}
		newChild, err := setSegs(arr[idx], p, segs[1:], v)
		if err != nil {
			return value.Value{}, err
		}
		out[idx] = newChild
		return value.Array(out...), nil

	default:
		return value.Value{}, errs.InvalidPath(p.raw)
	}
}

// removeAt returns doc with p deleted. Deleting an array element shifts the
// succeeding elements down. Deleting the root is not a path removal — the
// caller deletes the whole key instead.
func removeAt(doc value.Value, p Pointer) (value.Value, error) {
	if p.IsRoot() {
		return value.Value{}, errs.InvalidPath(p.raw)
	}
	return removeSegs(doc, p, p.segs)
}

func removeSegs(cur value.Value, p Pointer, segs []string) (value.Value, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch cur.Kind() {
	case value.KindObject:
		obj, _ := cur.AsObject()
		child, ok := obj[seg]
		if !ok {
			return value.Value{}, errs.NotFound(p.raw)
		}
		out := make(map[string]value.Value, len(obj))
		for k, e := range obj {
			out[k] = e
		}
		if last {
			delete(out, seg)
			return value.Object(out), nil
		}
		newChild, err := removeSegs(child, p, segs[1:])
		if err != nil {
			return value.Value{}, err
		}
		out[seg] = newChild
		return value.Object(out), nil

	case value.KindArray:
		arr, _ := cur.AsArray()
		idx, appendMarker, ok := isIndex(seg)
		if !ok || appendMarker {
			return value.Value{}, errs.InvalidPath(p.raw)
		}
		if idx >= len(arr) {
			return value.Value{}, errs.NotFound(p.raw)
		}
		if last {
			out := make([]value.Value, 0, len(arr)-1)
			out = append(out, arr[:idx]...)
			out = append(out, arr[idx+1:]...)
			return value.Array(out...), nil
		}
		out := make([]value.Value, len(arr))
		copy(out, arr)
		newChild, err := removeSegs(arr[idx], p, segs[1:])
		if err != nil {
			return value.Value{}, err
		}
		out[idx] = newChild
		return value.Array(out...), nil

	default:
		return value.Value{}, errs.InvalidPath(p.raw)
	}
}

// CollectPaths returns the set of currently-live paths in doc: one entry
// per object field and array slot, rooted at "".
func CollectPaths(doc value.Value) map[string]struct{} {
	out := make(map[string]struct{})
	collect(doc, "", out)
	return out
}

func collect(v value.Value, prefix string, out map[string]struct{}) {
	switch v.Kind() {
	case value.KindObject:
		obj, _ := v.AsObject()
		for k, e := range obj {
			p := prefix + "/" + escape(k)
			out[p] = struct{}{}
			collect(e, p, out)
		}
	case value.KindArray:
		arr, _ := v.AsArray()
		for i, e := range arr {
			p := prefix + "/" + strconv.Itoa(i)
			out[p] = struct{}{}
			collect(e, p, out)
		}
	}
}

func escape(s string) string {
	// Inverse of unescape: '~' first, then '/'.
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
