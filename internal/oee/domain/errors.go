package oee

import "errors"

// ErrInvalidArgument marks bad shift, date or range input.
var ErrInvalidArgument = errors.New("oee: invalid argument")
