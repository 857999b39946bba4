package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	now := time.Now()
	data := map[string]any{
		"name":     "Main",
		"hasUsers": false,
		"userIds":  []any{"u1", "u2"},
		"created":  now,
		"count":    int64(3),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"string equal", Filter{"name", OpEqual, "Main"}, true},
		{"string not equal", Filter{"name", OpEqual, "Other"}, false},
		{"bool equal", Filter{"hasUsers", OpEqual, false}, true},
		{"bool vs string", Filter{"hasUsers", OpEqual, "false"}, false},
		{"array contains", Filter{"userIds", OpArrayContains, "u2"}, true},
		{"array missing", Filter{"userIds", OpArrayContains, "u3"}, false},
		{"time greater", Filter{"created", OpGreater, now.Add(-time.Hour)}, true},
		{"time less", Filter{"created", OpLess, now.Add(-time.Hour)}, false},
		{"numeric mixed types", Filter{"count", OpGreater, 2.5}, true},
		{"missing field", Filter{"absent", OpEqual, "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(data))
		})
	}
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := NewQuery("channels").Where("hasUsers", OpEqual, true)
	a := base.Where("name", OpEqual, "a")
	b := base.Where("name", OpEqual, "b")

	require.Len(t, base.Filters, 1)
	assert.Equal(t, "a", a.Filters[1].Value)
	assert.Equal(t, "b", b.Filters[1].Value)
}

func TestSplit(t *testing.T) {
	collection, id, err := Split("app-DEV/app1/channels/c1")
	require.NoError(t, err)
	assert.Equal(t, "app-DEV/app1/channels", collection)
	assert.Equal(t, "c1", id)

	_, _, err = Split("app-DEV/app1/channels")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, _, err = Split("a//b")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestValidCollection(t *testing.T) {
	assert.True(t, ValidCollection("users"))
	assert.True(t, ValidCollection(Join("app-DEV", "app1", "channels")))
	assert.False(t, ValidCollection("users/u1"))
	assert.False(t, ValidCollection(""))
}

func TestCloneDataIsDeep(t *testing.T) {
	orig := map[string]any{
		"readBy": map[string]time.Time{"u1": time.Unix(1, 0)},
		"tags":   []any{"a"},
	}
	cp := CloneData(orig)
	cp["readBy"].(map[string]time.Time)["u2"] = time.Unix(2, 0)
	cp["tags"].([]any)[0] = "b"

	assert.Len(t, orig["readBy"].(map[string]time.Time), 1)
	assert.Equal(t, "a", orig["tags"].([]any)[0])
}
