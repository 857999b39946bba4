package docstore

import "time"

// CloneData deep-copies a document field map so stores never share state with callers.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case map[string]time.Time:
		m := make(map[string]time.Time, len(t))
		for k, ts := range t {
			m[k] = ts
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, item := range t {
			s[i] = cloneValue(item)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CloneDocument returns a copy of doc with its own field map.
func CloneDocument(doc Document) Document {
	doc.Data = CloneData(doc.Data)
	return doc
}
