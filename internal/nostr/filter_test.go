package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestFilterUnmarshalTagConstraints(t *testing.T) {
	var f Filter
	raw := `{"kinds":[38001],"#e":["abc","def"],"#t":["price"],"limit":5,"since":100,"until":200}`
	require.NoError(t, json.Unmarshal([]byte(raw), &f))

	assert.Equal(t, []int{38001}, f.Kinds)
	assert.Equal(t, []string{"abc", "def"}, f.Tags["e"])
	assert.Equal(t, []string{"price"}, f.Tags["t"])
	require.NotNil(t, f.Limit)
	assert.Equal(t, 5, *f.Limit)
	assert.Equal(t, int64(100), *f.Since)
	assert.Equal(t, int64(200), *f.Until)
}

func TestFilterMatches(t *testing.T) {
	evt := &Event{
		ID:        "id1",
		PubKey:    "pk1",
		CreatedAt: 150,
		Kind:      38001,
		Tags:      [][]string{{"e", "req1", "reply"}, {"t", "price"}},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter is wildcard", Filter{}, true},
		{"id match", Filter{IDs: []string{"id1"}}, true},
		{"id miss", Filter{IDs: []string{"other"}}, false},
		{"kind match", Filter{Kinds: []int{38001, 1}}, true},
		{"kind miss", Filter{Kinds: []int{1}}, false},
		{"author match", Filter{Authors: []string{"pk1"}}, true},
		{"author miss", Filter{Authors: []string{"pk2"}}, false},
		{"since inclusive", Filter{Since: int64p(150)}, true},
		{"since excludes older", Filter{Since: int64p(151)}, false},
		{"until inclusive", Filter{Until: int64p(150)}, true},
		{"until excludes newer", Filter{Until: int64p(149)}, false},
		{"tag union hit", Filter{Tags: map[string][]string{"e": {"nope", "req1"}}}, true},
		{"tag union miss", Filter{Tags: map[string][]string{"e": {"nope"}}}, false},
		{"tag absent from event", Filter{Tags: map[string][]string{"p": {"pk1"}}}, false},
		{"combined", Filter{Kinds: []int{38001}, Tags: map[string][]string{"t": {"price"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(evt))
		})
	}
}
