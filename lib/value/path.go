package value

import "strings"

// IDField is the identity field of every document.
const IDField = "_id"

// Lookup resolves a dotted field path inside a document.
// The second return value is false if a path component is missing.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Get is like Lookup but returns nil for missing fields, which is how missing
// fields are indexed and sorted.
func Get(doc map[string]any, path string) any {
	v, _ := Lookup(doc, path)
	return v
}

// Set stores v at a dotted path, creating intermediate objects as needed.
func Set(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
