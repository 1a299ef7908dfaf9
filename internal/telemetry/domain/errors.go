package telemetry

import "errors"

var (
	// ErrInvalidArgument indicates a caller error such as a bad resolution or an inverted range.
	ErrInvalidArgument = errors.New("telemetry: invalid argument")
	// ErrDataUnavailable indicates the backing dataset does not exist yet.
	ErrDataUnavailable = errors.New("telemetry: data unavailable")
)
