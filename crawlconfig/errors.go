package crawlconfig

import "errors"

var (
	// ErrMissingConfiguration is returned when a required setting has no
	// value from any layer (default, env, option).
	ErrMissingConfiguration = errors.New("crawlconfig: missing required configuration")

	// ErrInvalidConfiguration is returned when a supplied value fails
	// structural validation (e.g. a concurrency cap below 1).
	ErrInvalidConfiguration = errors.New("crawlconfig: invalid configuration")
)
