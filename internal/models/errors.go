package models

import "errors"

// Domain sentinels. Storage maps backend not-found conditions onto
// ErrNotFound so callers never see badgerhold internals; services wrap these
// with context and handlers map them to response codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateName       = errors.New("name already exists")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDefaultGroup        = errors.New("operation not allowed on the default group")
	ErrJobNotStoppable     = errors.New("job is not stoppable")
	ErrNoEligibleDocuments = errors.New("no eligible documents")
	ErrUnknownGroup        = errors.New("unknown group")
	ErrUnknownConfig       = errors.New("unknown configuration")
	ErrUnknownLink         = errors.New("configuration is not linked to group")
	ErrLastGroupLink       = errors.New("configuration must belong to at least one group")
)
