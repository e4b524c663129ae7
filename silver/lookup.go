package silver

// Helpers for walking a generic JSON tree by raw key. CVE documents do
// not share a rigid schema, so every access goes through an explicit
// path lookup with absence handling instead of struct decoding.

func lookup(tree map[string]interface{}, path ...string) (interface{}, bool) {
	var current interface{} = tree
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupString(tree map[string]interface{}, path ...string) (string, bool) {
	v, ok := lookup(tree, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func lookupFloat(tree map[string]interface{}, path ...string) (float64, bool) {
	v, ok := lookup(tree, path...)
	if !ok {
		return 0, false
	}
	// encoding/json decodes every number into float64
	f, ok := v.(float64)
	return f, ok
}

func lookupSlice(tree map[string]interface{}, path ...string) ([]interface{}, bool) {
	v, ok := lookup(tree, path...)
	if !ok {
		return nil, false
	}
	s, ok := v.([]interface{})
	return s, ok
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
