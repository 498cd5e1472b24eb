package quotes

import "errors"

// Ingest errors. None of them is fatal; the caller logs and moves on.
var (
	// ErrStaleSequence indicates the quote's sequence is not newer than the stored one.
	ErrStaleSequence = errors.New("stale sequence")
	// ErrUnknownInstrument indicates the instrument is not configured on this node.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrInvalidPrice indicates a zero or negative price.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrMissingSource indicates the quote carries no source id.
	ErrMissingSource = errors.New("missing source id")
)

// Reason maps an ingest error to a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrStaleSequence):
		return "stale_sequence"
	case errors.Is(err, ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrMissingSource):
		return "missing_source"
	default:
		return "other"
	}
}
