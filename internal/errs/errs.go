// Package errs defines the typed error kinds surfaced across the public
// recognizer API, so callers can branch with errors.Is instead of parsing
// strings.
package errs

import "errors"

// Kind identifies one of the recoverable error categories named in the
// recognizer's public interface.
type Kind int

const (
	// InvalidConfig means a config key/value was missing, malformed, or
	// mutually exclusive with another key.
	InvalidConfig Kind = iota
	// IoError means a file could not be opened or read.
	IoError
	// InvalidModel means a loaded acoustic/LDA/MLLR model was inconsistent.
	InvalidModel
	// InvalidPhones means a dictionary entry referenced unknown phones.
	InvalidPhones
	// ParseError means a grammar (FSG/JSGF) failed to parse.
	ParseError
	// BadState means a public operation was called out of order against
	// the Idle/Started/Processing/Finished state machine.
	BadState
	// AlignmentFailed means forced alignment could not reach the grammar's
	// final state even after widening the beam.
	AlignmentFailed
	// OutOfBeam means a search pruned every active path before reaching
	// end of utterance; returned only where the caller asked to be told
	// (ordinary decode returns an empty hypothesis instead, see §7).
	OutOfBeam
)

func (k Kind) String() string {
	switch k {
	case InvalidConfig:
		return "InvalidConfig"
	case IoError:
		return "IoError"
	case InvalidModel:
		return "InvalidModel"
	case InvalidPhones:
		return "InvalidPhones"
	case ParseError:
		return "ParseError"
	case BadState:
		return "BadState"
	case AlignmentFailed:
		return "AlignmentFailed"
	case OutOfBeam:
		return "OutOfBeam"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with context and an optional underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, errs.New(errs.BadState, "")) works as a kind check even
// when Msg/Err differ.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

// New builds an *Error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is(err, errs.ErrBadState) style checks without
// constructing a throwaway *Error by hand.
var (
	ErrInvalidConfig   = New(InvalidConfig, "")
	ErrIoError         = New(IoError, "")
	ErrInvalidModel    = New(InvalidModel, "")
	ErrInvalidPhones   = New(InvalidPhones, "")
	ErrParse           = New(ParseError, "")
	ErrBadState        = New(BadState, "")
	ErrAlignmentFailed = New(AlignmentFailed, "")
	ErrOutOfBeam       = New(OutOfBeam, "")
)
