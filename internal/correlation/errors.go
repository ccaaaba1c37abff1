package correlation

import "errors"

// Sentinel errors returned by the engine and Service. Storage lookups that
// miss are reported with services.ErrNotFound.
var (
	ErrAlreadyRunning  = errors.New("correlation run already in progress")
	ErrInvalidMerge    = errors.New("invalid merge")
	ErrAlreadyResolved = errors.New("conflict already resolved")
	ErrValidation      = errors.New("validation failed")
)
