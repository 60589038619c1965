package config

import "errors"

// ErrInvalidConfig is wrapped by every validation failure Validate reports,
// so callers can test for "my config was bad" with a single errors.Is.
var ErrInvalidConfig = errors.New("invalid config")
