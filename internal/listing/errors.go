package listing

import "errors"

var (
	ErrNoInstruction    = errors.New("no instruction at address")
	ErrCodeUnitConflict = errors.New("conflicting code unit")
	ErrUninitialized    = errors.New("memory not initialized")
	ErrBadLength        = errors.New("invalid instruction length")
	ErrBadRange         = errors.New("invalid address range")
)
