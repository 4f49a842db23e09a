package config

import (
	"fmt"
	"strings"
)

// Toggle is a boolean that also accepts "yes"/"no" and "on"/"off", the spellings
// shell environments tend to use.
type Toggle bool

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Toggle) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "1", "true", "yes", "on", "y":
		*t = true
	case "0", "false", "no", "off", "n", "":
		*t = false
	default:
		return fmt.Errorf("invalid boolean %q", string(text))
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Toggle) MarshalText() ([]byte, error) {
	if t {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}
