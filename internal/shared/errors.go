package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTenantRequired indicates a request without tenant scope.
	ErrTenantRequired = errors.New("tenant required")
	// ErrActorInvalid indicates a malformed actor identifier.
	ErrActorInvalid = errors.New("actor id invalid")
)
