package format

import "errors"

var (
	// ErrInvalidPath is returned when a path has no parseable extension.
	ErrInvalidPath = errors.New("invalid path")
	// ErrResource is returned when the sink cannot be opened, written or closed.
	ErrResource = errors.New("resource error")
	// ErrOutOfMemory is returned when the frame buffer cannot be allocated.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrUnsupported is returned by operations an encode stream does not offer.
	ErrUnsupported = errors.New("operation not supported")
	// ErrUnsupportedParameter is returned when the encoder does not accept
	// the configured sample rate or bitrate.
	ErrUnsupportedParameter = errors.New("unsupported parameter")

	ErrClosed             = errors.New("handle closed")
	ErrUnknownFormat      = errors.New("no format registered for extension")
	ErrRegistryClosed     = errors.New("format registry closed")
	ErrDuplicateExtension = errors.New("extension already registered")
)
