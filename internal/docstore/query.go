package docstore

import "time"

// Op is a filter comparison operator, spelled as the Firestore operators.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
	OpGreater       Op = ">"
	OpLess          Op = "<"
)

// Filter restricts a query by one field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
}

// NewQuery selects every document of collection.
func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Matches evaluates all filters against data.
func (q Query) Matches(data map[string]any) bool {
	for _, f := range q.Filters {
		if !f.Matches(data) {
			return false
		}
	}
	return true
}

// Matches evaluates f against data. Missing fields never match.
func (f Filter) Matches(data map[string]any) bool {
	v, ok := data[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return equalValues(v, f.Value)
	case OpArrayContains:
		return arrayContains(v, f.Value)
	case OpGreater:
		c, ok := compareValues(v, f.Value)
		return ok && c > 0
	case OpLess:
		c, ok := compareValues(v, f.Value)
		return ok && c < 0
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

func arrayContains(list, v any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if equalValues(item, v) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if equalValues(item, v) {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
