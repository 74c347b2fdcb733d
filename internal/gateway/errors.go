package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("default gateway not found")
	// ErrUnsupportedPlatform matches any UnsupportedPlatformError.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// NotFoundError reports that no default gateway could be extracted.
type NotFoundError struct {
	Platform string
	Reason   string
	Err      error
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("default gateway not found on %s: %s", e.Platform, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// UnsupportedPlatformError reports an OS with no discovery strategy.
type UnsupportedPlatformError struct {
	GOOS string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("default gateway discovery is not supported on %s", e.GOOS)
}

func (e *UnsupportedPlatformError) Is(target error) bool {
	return target == ErrUnsupportedPlatform
}
