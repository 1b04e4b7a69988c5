package download

import (
	"errors"
	"fmt"

	"github.com/handiism/patch-downloader/internal/model"
)

// Common errors.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrAlreadyStarted       = errors.New("session already started")
	ErrCancelled            = errors.New("session cancelled")
)

// AcquisitionError is the fatal session error reported when a patch could
// not be acquired within the retry bound.
type AcquisitionError struct {
	Patch    model.Patch
	Attempts int
	Err      error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: giving up after %d attempts: %v", e.Patch.Name, e.Attempts, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// InstallError is the fatal session error reported when the installer
// rejected a downloaded patch.
type InstallError struct {
	Patch model.Patch
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Patch.Name, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
