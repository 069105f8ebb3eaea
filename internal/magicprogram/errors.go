package magicprogram

import "errors"

// Program errors, encoded as custom program errors in transaction
// status (spec §4.6 "Invariants", §7 "Program errors from the magic
// program").
var (
	ErrAccountNotDelegated  = errors.New("magicprogram: account not delegated to this validator")
	ErrProgramCannotBePayer = errors.New("magicprogram: payer cannot be the magic program itself")
	ErrTooManyAccounts      = errors.New("magicprogram: too many accounts provided")
	ErrInternal             = errors.New("magicprogram: internal error")
)
