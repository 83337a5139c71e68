package types

import "errors"

var (
	errSameToken                = errors.New("types: sell and buy token must differ")
	errZeroAmount                = errors.New("types: sell and buy amounts must be non-zero")
	errDeadlineNotAfterCreation  = errors.New("types: valid-to must be after creation")
	errPartialFillNotAllowed     = errors.New("types: non-partially-fillable order executed amount must be 0 or full")
)
