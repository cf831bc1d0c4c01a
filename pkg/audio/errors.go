// ABOUTME: Structured error kinds for the transcoding pipeline
// ABOUTME: Errors carry a Kind so callers can react without string matching
package audio

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	UnsupportedFormat
	UnsupportedFeature
	CorruptHeader
	CorruptStream
	PartialDecode
	SeekUnsupported
	EncoderClosed
	BufferFull
	Cancelled
	DeviceError
)

var kindNames = map[Kind]string{
	KindUnknown:        "Unknown",
	UnsupportedFormat:  "UnsupportedFormat",
	UnsupportedFeature: "UnsupportedFeature",
	CorruptHeader:      "CorruptHeader",
	CorruptStream:      "CorruptStream",
	PartialDecode:      "PartialDecode",
	SeekUnsupported:    "SeekUnsupported",
	EncoderClosed:      "EncoderClosed",
	BufferFull:         "BufferFull",
	Cancelled:          "Cancelled",
	DeviceError:        "DeviceError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a pipeline error tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "wav: open"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrCorruptHeader)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnsupportedFormat  = &Error{Kind: UnsupportedFormat}
	ErrUnsupportedFeature = &Error{Kind: UnsupportedFeature}
	ErrCorruptHeader      = &Error{Kind: CorruptHeader}
	ErrCorruptStream      = &Error{Kind: CorruptStream}
	ErrPartialDecode      = &Error{Kind: PartialDecode}
	ErrSeekUnsupported    = &Error{Kind: SeekUnsupported}
	ErrEncoderClosed      = &Error{Kind: EncoderClosed}
	ErrBufferFull         = &Error{Kind: BufferFull}
	ErrCancelled          = &Error{Kind: Cancelled}
	ErrDeviceError        = &Error{Kind: DeviceError}
)

// NewError builds a kinded error for op wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
