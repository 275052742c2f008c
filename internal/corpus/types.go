package corpus

import (
	"encoding/json"
	"fmt"
)

// FlexID accepts JSON string or numeric identifiers. Exporters disagree on
// which one an issue id is.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", b)
	}
	*f = FlexID(n.String())
	return nil
}

// LabelList accepts both flat label arrays ["bug"] and GitHub API label
// objects [{"name": "bug"}].
type LabelList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *LabelList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("labels must be an array: %w", err)
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}

		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("label must be a string or object: %w", err)
		}
		out = append(out, obj.Name)
	}

	*l = out
	return nil
}
