package brin

import "errors"

var (
	ErrCorruptPage        = errors.New("brin: corrupt index page")
	ErrOversizeItem       = errors.New("brin: index row size exceeds maximum")
	ErrNotBrinIndex       = errors.New("brin: not a block range index")
	ErrNotOwner           = errors.New("brin: must be owner of index")
	ErrRecoveryInProgress = errors.New("brin: operation not allowed during recovery")
	ErrIndexNotEmpty      = errors.New("brin: index already contains data")
	ErrMissingPlaceholder = errors.New("brin: missing placeholder tuple")
	ErrNoConsistentProc   = errors.New("brin: opclass provides no consistent procedure")
	ErrClosed             = errors.New("brin: index is closed")
)
