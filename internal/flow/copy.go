package flow

// Copy returns a deep copy of the plain data in v. Maps with string keys and
// slices of any are copied recursively; other values are returned as is.
func Copy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Copy(item)
		}
		return out
	default:
		return v
	}
}

// CopyMap returns a deep copy of m.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Copy(v)
	}
	return out
}

// Merge deep-merges src into dst; values from src win. Nested maps are merged
// key by key, everything else is replaced.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sm, srcIsMap := v.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = Merge(CopyMap(dm), sm)
			continue
		}
		dst[k] = Copy(v)
	}
	return dst
}
