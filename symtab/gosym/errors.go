package gosym

import "errors"

var (
	// ErrTruncated is returned when the line table buffer ends in the
	// middle of a header, a function record or a varint.
	ErrTruncated = errors.New("truncated line table")

	// ErrUnsupportedVersion is returned when the header magic does not
	// match any supported line table format.
	ErrUnsupportedVersion = errors.New("unsupported line table version")

	// ErrAddressOutOfRange is returned when a queried address falls
	// outside the function whose program is being decoded.
	ErrAddressOutOfRange = errors.New("address out of range")
)
