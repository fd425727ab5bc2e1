package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsTable(t *testing.T) {
	srcs := Defaults()
	assert.Equal(t, []string{"coinbase", "kraken", "coingecko", "bitstamp"}, Names(srcs))
	for _, s := range srcs {
		assert.NotNil(t, s.Extract, s.Name)
		assert.Contains(t, s.URL, "https://", s.Name)
	}
}

func TestExtractors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		body    string
		want    float64
		wantErr bool
	}{
		{"coinbase ok", "coinbase", `{"price":"60123.45","bid":"60120"}`, 60123.45, false},
		{"coinbase garbage price", "coinbase", `{"price":"abc"}`, 0, true},
		{"coinbase not json", "coinbase", `<html>`, 0, true},
		{"kraken ok", "kraken", `{"error":[],"result":{"XXBTZUSD":{"c":["60500.1","0.01"]}}}`, 60500.1, false},
		{"kraken api error", "kraken", `{"error":["EGeneral:Invalid"],"result":{}}`, 0, true},
		{"kraken missing close", "kraken", `{"error":[],"result":{"XXBTZUSD":{"c":[]}}}`, 0, true},
		{"coingecko ok", "coingecko", `{"bitcoin":{"usd":59875.2}}`, 59875.2, false},
		{"coingecko missing pair", "coingecko", `{}`, 0, true},
		{"bitstamp ok", "bitstamp", `{"last":"60001","high":"61000"}`, 60001, false},
		{"bitstamp zero price", "bitstamp", `{"last":"0"}`, 0, true},
		{"bitstamp negative price", "bitstamp", `{"last":"-5"}`, 0, true},
	}

	byName := make(map[string]Source)
	for _, s := range Defaults() {
		byName[s.Name] = s
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, ok := byName[tt.source]
			require.True(t, ok)
			got, err := src.Extract([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestValidPrice(t *testing.T) {
	for _, bad := range []string{"NaN", "+Inf", "-Inf"} {
		_, err := parsePrice(bad)
		assert.Error(t, err, bad)
	}
	v, err := parsePrice("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}
