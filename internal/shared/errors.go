package shared

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the entity belongs to another company.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidOperation indicates a business-rule violation.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInternal indicates an exhausted retry budget or other internal failure.
	ErrInternal = errors.New("internal error")
)
