package email

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-smtp"
)

var (
	// ErrConnectTimeout is returned when a transport cannot be opened in time
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrAuthFailure is returned when the server rejects the mailbox credentials
	ErrAuthFailure = errors.New("authentication failed")
	// ErrNetwork covers DNS, TLS and socket failures
	ErrNetwork = errors.New("network error")
	// ErrNoFolderFound is returned when every folder candidate failed to open
	ErrNoFolderFound = errors.New("no such folder")
	// ErrTimeout is returned when an operation outlives its deadline
	ErrTimeout = errors.New("operation timed out")
	// ErrParse marks a message that could not be normalized
	ErrParse = errors.New("unparsable message")
)

// AttemptsExhaustedError is returned once every send attempt has failed.
// Last is the error of the final attempt, unmodified.
type AttemptsExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("send failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Last
}

// ErrorCode returns a short machine-readable code for err: the SMTP reply
// code when the server sent one, otherwise a transport class.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return strconv.Itoa(smtpErr.Code)
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrConnectTimeout):
		return "ETIMEDOUT"
	case errors.Is(err, ErrAuthFailure):
		return "EAUTH"
	case errors.Is(err, ErrNoFolderFound):
		return "ENOFOLDER"
	case errors.Is(err, ErrNetwork):
		return "ECONNECTION"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "ETIMEDOUT"
		}
		return "ECONNECTION"
	}
	return ""
}

// classifyDialError tags a dial or handshake failure with a sentinel
func classifyDialError(addr string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrConnectTimeout, addr, err)
	}
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %s: %w", ErrConnectTimeout, addr, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, addr, err)
}
