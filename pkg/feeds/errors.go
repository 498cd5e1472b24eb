// Package feeds provides the adapters that turn upstream market data into
// quotes for the ingress buffer.
package feeds

import "errors"

var (
	// ErrUnknownFeedType indicates that no factory is registered for the feed type.
	ErrUnknownFeedType = errors.New("unknown feed type")
	// ErrURLRequired indicates a feed without url.
	ErrURLRequired = errors.New("url is required")
	// ErrPricePathRequired indicates a feed without price_path.
	ErrPricePathRequired = errors.New("price_path is required")
	// ErrSymbolPathRequired indicates a stream feed without symbol_path.
	ErrSymbolPathRequired = errors.New("symbol_path is required")
	// ErrNoInstrumentsConfigured indicates a feed without instrument mappings.
	ErrNoInstrumentsConfigured = errors.New("no instruments configured")
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrPriceNotFound indicates that the price path matched nothing.
	ErrPriceNotFound = errors.New("price not found in response")
	// ErrInvalidTimestamp indicates a timestamp that cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)
