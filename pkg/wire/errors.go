package wire

import (
	"errors"
	"fmt"
)

// Kind identifies why a frame could not be decoded.
type Kind int

const (
	KindEmptyInput Kind = iota + 1
	KindInvalidToken
	KindTooShort
	KindInvalidCommand
	KindInvalidPayloadLength
	KindTruncatedPayload
	KindNonDigitPayload
)

// Sentinel errors, one per Kind. A *DecodeError matches its sentinel with errors.Is.
var (
	ErrEmptyInput           = errors.New("empty input")
	ErrInvalidToken         = errors.New("invalid hex token")
	ErrTooShort             = errors.New("frame too short")
	ErrInvalidCommand       = errors.New("invalid command")
	ErrInvalidPayloadLength = errors.New("invalid payload length")
	ErrTruncatedPayload     = errors.New("truncated payload")
	ErrNonDigitPayload      = errors.New("non-digit payload byte")
)

var kindErrors = map[Kind]error{
	KindEmptyInput:           ErrEmptyInput,
	KindInvalidToken:         ErrInvalidToken,
	KindTooShort:             ErrTooShort,
	KindInvalidCommand:       ErrInvalidCommand,
	KindInvalidPayloadLength: ErrInvalidPayloadLength,
	KindTruncatedPayload:     ErrTruncatedPayload,
	KindNonDigitPayload:      ErrNonDigitPayload,
}

func (k Kind) String() string {
	if err, ok := kindErrors[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DecodeError reports a frame that was rejected. Decoding never yields a
// partial value alongside a DecodeError.
type DecodeError struct {
	Kind   Kind
	Detail string
}

func newError(kind Kind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

// Is reports whether target is the sentinel error for e's Kind.
func (e *DecodeError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}
