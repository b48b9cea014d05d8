package cli

import "fmt"

// Process exit codes
const (
	ExitOK          = 0
	ExitTestsFailed = 1
	ExitUsage       = 2
	ExitInfra       = 3
)

// ExitError carries the exit code a failure maps to
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("exit status %d", e.Code)
	}
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// UsageError wraps err as a usage failure.
func UsageError(err error) *ExitError {
	return &ExitError{Code: ExitUsage, Err: err}
}

// Usagef builds a usage failure from a message.
func Usagef(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

// InfraError wraps err as a platform or infrastructure failure.
func InfraError(message string, err error) *ExitError {
	return &ExitError{Code: ExitInfra, Message: message, Err: err}
}
