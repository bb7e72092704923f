package gateway

import "errors"

// Sentinel errors for declaration parsing and update application
// (spec.md §7 UpdateError taxonomy).
var (
	// ErrInvalidArg is returned for an empty (nil or zero-length)
	// declaration document.
	ErrInvalidArg = errors.New("gateway: invalid argument")

	// ErrMalformed is returned when the declaration JSON does not parse,
	// when neither "modules" nor "links" is present, when a module/link
	// entry is missing a required field, or when a link names an unknown
	// module.
	ErrMalformed = errors.New("gateway: malformed declaration")

	// ErrUpdateMemory is returned when a step of apply_update fails for
	// an allocation reason (spec.md §7 UpdateMemoryError).
	ErrUpdateMemory = errors.New("gateway: update allocation failure")

	// ErrUpdateFailed is returned when apply_update could not complete
	// and had to roll back (spec.md §7 UpdateError).
	ErrUpdateFailed = errors.New("gateway: update failed, rolled back")
)
