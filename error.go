package ocs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// The three kinds of failure a caller has to tell apart. Every error returned
// by this module matches exactly one of them with xerrors.Is.
var (
	// ErrCommunication is returned when a request could not be completed:
	// the transport failed, the reply could not be decoded, or the reply
	// lacks a record that must be present.
	ErrCommunication = xerrors.New("could not complete the request")
	// ErrCryptoStructure is returned when an identifier, key or darc is
	// malformed. It is detected locally and nothing is sent.
	ErrCryptoStructure = xerrors.New("malformed cryptographic structure")
	// ErrAuthorization is returned when a signature path does not prove
	// the requested authorisation. Retrying will not help.
	ErrAuthorization = xerrors.New("authorization path rejected")
)

// Error is a wrapper around a standard error that remembers its kind and
// allows to print the stack trace from the call of the constructor.
type Error struct {
	kind  error
	err   error
	msg   string
	frame xerrors.Frame
}

// Wrap returns nil if err is nil, else an error of the given kind holding
// err and the stack frame of the caller.
func Wrap(kind error, err error, msg string) error {
	return WrapSkip(kind, err, msg, 1)
}

// WrapSkip is like Wrap but the stack trace begins at the skip-nth caller.
// An err of another kind is flattened into the message, so that the result
// only matches kind.
func WrapSkip(kind error, err error, msg string, skip int) error {
	if err == nil {
		return nil
	}
	if other := kindOf(err); other != nil && other != kind {
		if msg != "" {
			msg += ": "
		}
		return &Error{
			kind:  kind,
			msg:   msg + err.Error(),
			frame: xerrors.Caller(skip + 1),
		}
	}
	return &Error{
		kind:  kind,
		err:   err,
		msg:   msg,
		frame: xerrors.Caller(skip + 1),
	}
}

func kindOf(err error) error {
	for _, kind := range []error{ErrCommunication, ErrCryptoStructure, ErrAuthorization} {
		if xerrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Errorf creates a new error of the given kind.
func Errorf(kind error, format string, a ...interface{}) error {
	return &Error{
		kind:  kind,
		msg:   fmt.Sprintf(format, a...),
		frame: xerrors.Caller(1),
	}
}

// Kind returns the sentinel this error matches.
func (e *Error) Kind() error {
	return e.kind
}

func (e *Error) Error() string {
	switch {
	case e.err == nil:
		return e.msg
	case e.msg == "":
		return fmt.Sprintf("%v", e.err)
	default:
		return e.msg + ": " + fmt.Sprintf("%v", e.err)
	}
}

// Is makes xerrors.Is match the kind of the error.
func (e *Error) Is(target error) bool {
	return target == e.kind
}

// Unwrap returns the next error in the chain.
func (e *Error) Unwrap() error {
	return e.err
}

// Format prints the error to the formatter.
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// FormatError prints the error to the printer. It prints
// the stack trace when the '+' is used in combination with
// 'v'.
func (e *Error) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	if p.Detail() {
		e.frame.Format(p)
		if e.err != nil {
			p.Printf("%+v", e.err)
		}
	}
	return nil
}
