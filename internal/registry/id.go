package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a patient identifier as stored in the settings document. Ids are
// written as JSON numbers unless a leading zero would be lost, and both
// numbers and strings are accepted on read.
type ID string

func (id ID) MarshalJSON() ([]byte, error) {
	s := string(id)
	if !validID(s) || (len(s) > 1 && s[0] == '0') {
		return json.Marshal(s)
	}
	return []byte(s), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	s, err := parseID(b)
	if err != nil {
		return err
	}
	*id = ID(s)
	return nil
}

func parseID(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	var s string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
	} else {
		s = string(raw)
	}
	if !validID(s) {
		return "", fmt.Errorf("%w: %s", ErrInvalidID, raw)
	}
	return s, nil
}

func validID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
