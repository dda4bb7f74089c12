package item

import "encoding/json"

// Document flattens an item into its JSON object form. Evaluator handlers
// resolve property paths against this form so that local evaluation sees
// exactly what the store indexes.
func Document(it Item) (map[string]any, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Lookup resolves a dotted property path ("properties.twitterId") against an
// item. The second return is false when any path segment is absent.
func Lookup(it Item, path string) (any, bool) {
	doc, err := Document(it)
	if err != nil {
		return nil, false
	}
	return LookupPath(doc, path)
}

// LookupPath resolves a dotted path against a decoded JSON object.
func LookupPath(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		seg := path[start:i]
		start = i + 1
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
