package tasks

import "errors"

var (
	// ErrInvalidRange reports a malformed or empty date range, grid or region.
	ErrInvalidRange = errors.New("invalid range")

	// ErrUpstreamFetch reports that a source could not supply observations
	// for any interval of the requested range.
	ErrUpstreamFetch = errors.New("upstream fetch failure")

	// ErrGridMismatch reports an observation laid out on a different grid
	// than the rest of the series.
	ErrGridMismatch = errors.New("grid mismatch")

	// ErrUnknownBand reports a band name that is not present in a raster.
	ErrUnknownBand = errors.New("unknown band")
)
