package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// VoteValue is a single estimate: either a numeric card or one of the
// non-numeric sentinel cards ("?", "coffee"). On the wire it is a bare JSON
// number or string.
type VoteValue struct {
	Number  float64
	Label   string
	Numeric bool
}

// NumericValue returns a numeric vote value.
func NumericValue(n float64) VoteValue {
	return VoteValue{Number: n, Numeric: true}
}

// LabelValue returns a non-numeric sentinel vote value.
func LabelValue(label string) VoteValue {
	return VoteValue{Label: label}
}

func (v VoteValue) MarshalJSON() ([]byte, error) {
	if v.Numeric {
		return []byte(strconv.FormatFloat(v.Number, 'f', -1, 64)), nil
	}
	return json.Marshal(v.Label)
}

func (v *VoteValue) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumericValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = LabelValue(s)
		return nil
	}
	return fmt.Errorf("vote value must be a number or a string, got %s", data)
}

// String renders the value the way clients display it.
func (v VoteValue) String() string {
	if v.Numeric {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Label
}

// Vote is one member's hidden estimate for one story.
type Vote struct {
	Value     VoteValue `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteSet holds hidden votes keyed by story id, then user id.
type VoteSet map[string]map[string]Vote

// VoteSummary is the arithmetic computed over a story's numeric votes at
// reveal time. Min/Max/Average/Mode are nil when no numeric votes exist.
type VoteSummary struct {
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	Average   *float64 `json:"average"`
	Mode      *float64 `json:"mode"`
	Consensus bool     `json:"consensus"`
}
