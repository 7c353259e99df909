package artifacts

import "reflect"

const (
	// BaseFamily holds filename, path, id, size and checksum once persisted.
	BaseFamily = "base"

	// DefaultJournalFamily is the family where task provenance is recorded.
	DefaultJournalFamily = "iguazu"
)

// Mutable base fields. Everything else in the base family is owned by the backend.
var mutableBaseFields = []string{"path", "filename"}

// Family is one metadata namespace.
type Family map[string]any

// Metadata maps family names to families.
type Metadata map[string]Family

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for name, fam := range m {
		out[name] = fam.Clone()
	}
	return out
}

// Merge copies every key of other into m, family by family.
func (m Metadata) Merge(other Metadata) {
	for name, fam := range other {
		dst, ok := m[name]
		if !ok || dst == nil {
			dst = Family{}
			m[name] = dst
		}
		for k, v := range fam {
			dst[k] = cloneValue(v)
		}
	}
}

// Matches reports whether every key/value in filter is present and equal in m.
// Nested mappings are compared recursively.
func (m Metadata) Matches(filter Metadata) bool {
	for name, want := range filter {
		got, ok := m[name]
		if !ok {
			return false
		}
		if !subset(map[string]any(want), map[string]any(got)) {
			return false
		}
	}
	return true
}

// forUpload strips server-owned fields from a metadata payload.
func (m Metadata) forUpload() Metadata {
	out := m.Clone()
	if base, ok := out[BaseFamily]; ok {
		restricted := Family{}
		for _, k := range mutableBaseFields {
			if v, ok := base[k]; ok {
				restricted[k] = v
			}
		}
		out[BaseFamily] = restricted
	}
	return out
}

// Clone returns a deep copy of the family.
func (f Family) Clone() Family {
	if f == nil {
		return Family{}
	}
	out := make(Family, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// String returns the value at key when it is a string.
func (f Family) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Int64 returns the value at key when it is numeric.
func (f Family) Int64(key string) (int64, bool) {
	switch v := f[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	default:
		return 0, false
	}
}

func subset(want, got map[string]any) bool {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok {
			return false
		}
		wm, wIsMap := asMap(wv)
		gm, gIsMap := asMap(gv)
		if wIsMap || gIsMap {
			if !wIsMap || !gIsMap || !subset(wm, gm) {
				return false
			}
			continue
		}
		if !equalValue(wv, gv) {
			return false
		}
	}
	return true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Family:
		return m, true
	default:
		return nil, false
	}
}

// equalValue compares scalars, treating numbers of different Go types as equal
// when they hold the same value (decoded JSON and YAML disagree on number types).
func equalValue(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Family:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
