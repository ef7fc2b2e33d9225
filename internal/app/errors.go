package app

import "errors"

// Sentinel errors for the controller. The HTTP layer maps these to status
// codes; everything else is treated as an internal failure.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRoleMismatch    = errors.New("role mismatch")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnavailable     = errors.New("service unavailable")
)
