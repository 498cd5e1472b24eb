// Package aggregator provides the price aggregation rules applied to a round's accepted quotes.
package aggregator

import "errors"

var (
	// ErrNoQuotes indicates that the accepted set is empty.
	ErrNoQuotes = errors.New("no quotes to aggregate")
	// ErrUnknownMode indicates that the aggregation mode is unknown.
	ErrUnknownMode = errors.New("unknown aggregation mode")
)
