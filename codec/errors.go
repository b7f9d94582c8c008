package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors for decoding.
var (
	ErrMalformed    = errors.New("codec: malformed encoding")
	ErrUnknownTag   = errors.New("codec: unknown value tag")
	ErrUnknownType  = errors.New("codec: unregistered serializable type")
	ErrTypeMismatch = errors.New("codec: decoded value has unexpected type")
)

// Sentinel errors wrapped by UnsupportedValueError.
var (
	ErrNilValue     = errors.New("codec: nil pointer to serializable type")
	ErrMarshalPanic = errors.New("codec: serializable type panicked")
)

// UnsupportedValueError reports a value the codec cannot serialize.
// Name is the variable that held the value, when known.
type UnsupportedValueError struct {
	Name string
	Type string
	Err  error
}

func (e *UnsupportedValueError) Error() string {
	msg := "unsupported value type " + e.Type
	if e.Name != "" {
		msg = fmt.Sprintf("variable %q: %s", e.Name, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "codec: " + msg
}

func (e *UnsupportedValueError) Unwrap() error {
	return e.Err
}

// WithName returns a copy of the error attributed to the named variable.
func (e *UnsupportedValueError) WithName(name string) *UnsupportedValueError {
	out := *e
	out.Name = name
	return &out
}

func unsupported(v any, err error) error {
	return &UnsupportedValueError{Type: fmt.Sprintf("%T", v), Err: err}
}
