package nostr

import "encoding/json"

// Filter is one NIP-01 subscription constraint set. Absent fields are
// wildcards. Tag constraints arrive as "#x" keys and match when at
// least one of the event's x tag values is in the requested set.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Since   *int64
	Until   *int64
	Limit   *int
	Tags    map[string][]string
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var fields struct {
		IDs     []string `json:"ids"`
		Kinds   []int    `json:"kinds"`
		Authors []string `json:"authors"`
		Since   *int64   `json:"since"`
		Until   *int64   `json:"until"`
		Limit   *int     `json:"limit"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.IDs = fields.IDs
	f.Kinds = fields.Kinds
	f.Authors = fields.Authors
	f.Since = fields.Since
	f.Until = fields.Until
	f.Limit = fields.Limit
	f.Tags = nil
	for key, val := range raw {
		if len(key) < 2 || key[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(val, &values); err != nil {
			return err
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = values
	}
	return nil
}

// Matches reports whether e satisfies every constraint in f.
func (f *Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for name, wanted := range f.Tags {
		if !anyTagValue(e, name, wanted) {
			return false
		}
	}
	return true
}

func anyTagValue(e *Event, name string, wanted []string) bool {
	for _, v := range e.TagValues(name) {
		if containsString(wanted, v) {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
