package jsondoc

import (
	"github.com/stratadb/stratadb/pkg/value"
)

// mergePatch applies an RFC 7396 merge patch: object patches merge
// recursively, null patch members delete, and any non-object patch replaces
// the target wholesale.
func mergePatch(target, patch value.Value) value.Value {
	if patch.Kind() != value.KindObject {
		return patch
	}
	var base map[string]value.Value
	if target.Kind() == value.KindObject {
		base, _ = target.AsObject()
	}
	out := make(map[string]value.Value, len(base))
	for k, v := range base {
		out[k] = v
	}
	pm, _ := patch.AsObject()
	for k, pv := range pm {
		if pv.IsNull() {
			delete(out, k)
			continue
		}
		out[k] = mergePatch(out[k], pv)
	}
	return value.Object(out)
}

// mergeTouchedPaths returns the set of paths a merge patch affects: the
// leaves of the patch document, since an RFC 7396 merge only ever writes at
// the positions the patch names.
func mergeTouchedPaths(patch value.Value) []string {
	var out []string
	mergeLeaves(patch, "", &out)
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

func mergeLeaves(v value.Value, prefix string, out *[]string) {
	if v.Kind() != value.KindObject {
		if prefix == "" {
			*out = append(*out, "")
			return
		}
		*out = append(*out, prefix)
		return
	}
	obj, _ := v.AsObject()
	if len(obj) == 0 && prefix != "" {
		*out = append(*out, prefix)
		return
	}
	for k, e := range obj {
		mergeLeaves(e, prefix+"/"+escape(k), out)
	}
}
