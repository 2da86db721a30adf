package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrUnknownChannel) {
//	    // registry and event stream disagree; stop automation
//	}
var (
	// ErrUnknownChannel is returned by the engine when an event references a
	// role the registry does not know. It is fatal: the engine stops.
	ErrUnknownChannel = errors.New("automation: unknown channel")

	// ErrInvalidConfig is returned when rules reference missing or
	// mismatched roles.
	ErrInvalidConfig = errors.New("automation: invalid config")
)
