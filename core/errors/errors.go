package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrDeclined marks a business rejection. The operation leaves no state
	// behind but may still publish failure notifications.
	ErrDeclined = stderrors.New("broker: operation declined")
	// ErrInvariant marks a fatal invariant violation. The operation is aborted
	// and nothing it produced is kept, events included.
	ErrInvariant = stderrors.New("broker: invariant violated")
)

// Decline is a business rejection carrying a human readable reason.
type Decline struct {
	msg string
}

// NewDecline returns a decline error with the supplied message.
func NewDecline(msg string) *Decline {
	return &Decline{msg: msg}
}

// Declinef formats a decline error.
func Declinef(format string, args ...any) error {
	return &Decline{msg: fmt.Sprintf(format, args...)}
}

func (d *Decline) Error() string { return d.msg }

// Is reports whether target is ErrDeclined.
func (d *Decline) Is(target error) bool { return target == ErrDeclined }

type fatal struct {
	err error
}

func (f *fatal) Error() string { return f.err.Error() }

func (f *fatal) Unwrap() []error { return []error{ErrInvariant, f.err} }

// Fatal wraps err as an invariant violation.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrInvariant) {
		return err
	}
	return &fatal{err: err}
}

// Fatalf formats an invariant violation.
func Fatalf(format string, args ...any) error {
	return &fatal{err: fmt.Errorf(format, args...)}
}

// IsDeclined reports whether err is a business rejection.
func IsDeclined(err error) bool {
	return err != nil && stderrors.Is(err, ErrDeclined) && !stderrors.Is(err, ErrInvariant)
}

// IsFatal reports whether err is an invariant violation.
func IsFatal(err error) bool {
	return err != nil && stderrors.Is(err, ErrInvariant)
}
