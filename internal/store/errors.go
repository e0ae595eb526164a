package store

import "github.com/pkg/errors"

// Sentinel errors for memory operations. Returned errors wrap these with the
// offending id and address, so match with errors.Is.
var (
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrAddressOutOfRange = errors.New("address out of range")
	ErrInvalidRange      = errors.New("invalid range")
)
