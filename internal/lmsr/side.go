package lmsr

import "strings"

// Side is the market side an investment pushes on.
type Side int

const (
	No Side = iota
	Yes
)

// ParseSide maps a side string onto a Side. Matching is case-insensitive
// and only "YES" selects Yes: every other value, including malformed
// input, selects No.
func ParseSide(s string) Side {
	if strings.EqualFold(strings.TrimSpace(s), "YES") {
		return Yes
	}
	return No
}

// String returns "YES" or "NO".
func (s Side) String() string {
	if s == Yes {
		return "YES"
	}
	return "NO"
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParseSide.
func (s *Side) UnmarshalText(text []byte) error {
	*s = ParseSide(string(text))
	return nil
}
