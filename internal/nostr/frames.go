package nostr

import (
	"encoding/json"
	"fmt"
)

// Client frame verbs per NIP-01.
const (
	VerbEvent = "EVENT"
	VerbReq   = "REQ"
	VerbClose = "CLOSE"
)

// ParseFrame splits an inbound JSON array frame into its verb and the
// remaining raw elements. Anything that is not an array with a leading
// string is a bad envelope.
func ParseFrame(data []byte) (string, []json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return "", nil, fmt.Errorf("%w: not a JSON array", ErrBadEnvelope)
	}
	if len(elems) == 0 {
		return "", nil, fmt.Errorf("%w: empty frame", ErrBadEnvelope)
	}
	var verb string
	if err := json.Unmarshal(elems[0], &verb); err != nil {
		return "", nil, fmt.Errorf("%w: frame verb is not a string", ErrBadEnvelope)
	}
	return verb, elems[1:], nil
}

// ParseEvent decodes the event payload of an EVENT frame.
func ParseEvent(raw json.RawMessage) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if e.Tags == nil {
		e.Tags = [][]string{}
	}
	return &e, nil
}

func marshalFrame(elems ...interface{}) []byte {
	data, err := json.Marshal(elems)
	if err != nil {
		// Frame elements are relay-built strings, bools, and events;
		// marshal cannot fail on them.
		panic(fmt.Sprintf("marshal frame: %v", err))
	}
	return data
}

// OKFrame acknowledges an EVENT submission.
func OKFrame(eventID string, accepted bool, message string) []byte {
	return marshalFrame("OK", eventID, accepted, message)
}

// NoticeFrame carries a human-readable notice.
func NoticeFrame(text string) []byte {
	return marshalFrame("NOTICE", text)
}

// EOSEFrame ends the stored-event portion of a subscription.
func EOSEFrame(subID string) []byte {
	return marshalFrame("EOSE", subID)
}

// EventFrame is the bare live-broadcast form.
func EventFrame(e *Event) []byte {
	return marshalFrame("EVENT", e)
}

// SubEventFrame is the subscription-addressed form used for backfill.
func SubEventFrame(subID string, e *Event) []byte {
	return marshalFrame("EVENT", subID, e)
}
