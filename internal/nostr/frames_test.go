package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	verb, rest, err := ParseFrame([]byte(`["EVENT",{"id":"x"}]`))
	require.NoError(t, err)
	assert.Equal(t, "EVENT", verb)
	require.Len(t, rest, 1)

	_, _, err = ParseFrame([]byte(`{"not":"array"}`))
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, _, err = ParseFrame([]byte(`[]`))
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, _, err = ParseFrame([]byte(`[42]`))
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestOutboundFrames(t *testing.T) {
	assert.JSONEq(t, `["OK","abc",true,"accepted"]`, string(OKFrame("abc", true, "accepted")))
	assert.JSONEq(t, `["OK","",false,"invalid: bad sig or id"]`, string(OKFrame("", false, "invalid: bad sig or id")))
	assert.JSONEq(t, `["NOTICE","payload too large"]`, string(NoticeFrame("payload too large")))
	assert.JSONEq(t, `["EOSE","sub1"]`, string(EOSEFrame("sub1")))

	evt := &Event{ID: "id", PubKey: "pk", Kind: 1, Tags: [][]string{}, Content: "c", Sig: "s"}
	assert.JSONEq(t,
		`["EVENT",{"id":"id","pubkey":"pk","created_at":0,"kind":1,"tags":[],"content":"c","sig":"s"}]`,
		string(EventFrame(evt)))
	assert.JSONEq(t,
		`["EVENT","sub1",{"id":"id","pubkey":"pk","created_at":0,"kind":1,"tags":[],"content":"c","sig":"s"}]`,
		string(SubEventFrame("sub1", evt)))
}
