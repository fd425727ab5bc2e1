package nostr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeCanonicalForm(t *testing.T) {
	pk := strings.Repeat("ab", 32)
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{
			name: "plain",
			evt: Event{
				PubKey:    pk,
				CreatedAt: 1700000000,
				Kind:      1,
				Tags:      [][]string{},
				Content:   "hello",
			},
			want: `[0,"` + pk + `",1700000000,1,[],"hello"]`,
		},
		{
			name: "tags and escapes",
			evt: Event{
				PubKey:    pk,
				CreatedAt: 1700000001,
				Kind:      38000,
				Tags:      [][]string{{"t", "price-request"}, {"pair", "BTC-USD"}},
				Content:   "say \"hi\"\nback\\slash",
			},
			want: `[0,"` + pk + `",1700000001,38000,[["t","price-request"],["pair","BTC-USD"]],"say \"hi\"\nback\\slash"]`,
		},
		{
			name: "html characters stay verbatim",
			evt: Event{
				PubKey:    pk,
				CreatedAt: 1,
				Kind:      1,
				Tags:      [][]string{},
				Content:   `<a href="x">&</a>`,
			},
			want: `[0,"` + pk + `",1,1,[],"<a href=\"x\">&</a>"]`,
		},
		{
			name: "control bytes",
			evt: Event{
				PubKey:    pk,
				CreatedAt: 1,
				Kind:      1,
				Tags:      [][]string{},
				Content:   "a\tb\x01c\bd\fe",
			},
			want: `[0,"` + pk + `",1,1,[],"a\tb\u0001c\bd\fe"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.evt.Serialize()))
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	evt, err := signer.Sign(KindPriceRequest, [][]string{{"t", "price-request"}}, `{"pair":"BTC-USD"}`)
	require.NoError(t, err)

	assert.Len(t, evt.ID, 64)
	assert.Len(t, evt.Sig, 128)
	assert.Equal(t, signer.PublicKeyHex(), evt.PubKey)
	assert.Equal(t, evt.ID, evt.ComputeID())
	require.NoError(t, evt.Verify())
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	evt, err := signer.Sign(1, nil, "original")
	require.NoError(t, err)

	t.Run("content changed", func(t *testing.T) {
		bad := *evt
		bad.Content = "tampered"
		assert.ErrorIs(t, bad.Verify(), ErrBadID)
	})

	t.Run("id changed", func(t *testing.T) {
		bad := *evt
		bad.ID = strings.Repeat("00", 32)
		assert.ErrorIs(t, bad.Verify(), ErrBadID)
	})

	t.Run("sig from another key", func(t *testing.T) {
		other, err := NewSigner()
		require.NoError(t, err)
		otherEvt, err := other.SignAt(1, nil, "original", evt.CreatedAt)
		require.NoError(t, err)

		bad := *evt
		bad.Sig = otherEvt.Sig
		assert.ErrorIs(t, bad.Verify(), ErrBadSig)
	})

	t.Run("malformed pubkey", func(t *testing.T) {
		bad := *evt
		bad.PubKey = "nothex"
		assert.ErrorIs(t, bad.Verify(), ErrBadEnvelope)
	})

	t.Run("short sig", func(t *testing.T) {
		bad := *evt
		bad.Sig = "abcd"
		assert.ErrorIs(t, bad.Verify(), ErrBadEnvelope)
	})
}

func TestSignerFromHexIsStable(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	reloaded, err := NewSignerFromHex(signer.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKeyHex(), reloaded.PublicKeyHex())

	_, err = NewSignerFromHex("zz")
	assert.Error(t, err)
}

func TestTagValues(t *testing.T) {
	evt := Event{Tags: [][]string{
		{"src", "coinbase"},
		{"src", "kraken"},
		{"e", "abc", "reply"},
		{"src"}, // too short, ignored
	}}
	assert.Equal(t, []string{"coinbase", "kraken"}, evt.TagValues("src"))
	assert.Equal(t, []string{"abc"}, evt.TagValues("e"))
	assert.Nil(t, evt.TagValues("p"))
}
