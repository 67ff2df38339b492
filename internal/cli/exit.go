package cli

import (
	"errors"
	"fmt"

	"github.com/Dicklesworthstone/opgate/internal/core"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitDenied    = 1
	ExitMalformed = 2
)

// ExitError carries the exit code a command wants. Silent errors have
// already been reported to the user.
type ExitError struct {
	Code   int
	Err    error
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
// Malformed requests (and SELECT * reads) exit 2; every other failure
// exits 1 so that a caller chaining on success never proceeds.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, core.ErrMalformedRequest) || errors.Is(err, core.ErrSelectStar) {
		return ExitMalformed
	}
	return ExitDenied
}

// IsSilent reports whether err was already shown to the user.
func IsSilent(err error) bool {
	var ee *ExitError
	return errors.As(err, &ee) && ee.Silent
}

func requestError(err error) error {
	code := ExitDenied
	if errors.Is(err, core.ErrMalformedRequest) || errors.Is(err, core.ErrSelectStar) {
		code = ExitMalformed
	}
	return &ExitError{Code: code, Err: err}
}
