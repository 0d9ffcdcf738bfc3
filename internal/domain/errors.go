package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrValidation   = errors.New("domain: validation failed")
	ErrImmutable    = errors.New("domain: record is immutable")
	ErrChainCorrupt = errors.New("domain: audit chain integrity failure")
	ErrStorageFull  = errors.New("domain: local storage full")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")
)
