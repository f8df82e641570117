package protocol

import "errors"

var (
	ErrMalformed       = errors.New("Message is malformed")
	ErrUnknownType     = errors.New("Unknown message type could not be decoded")
	ErrDuplicateType   = errors.New("Message type is already registered")
	ErrFieldOrder      = errors.New("Message field processed out of order")
	ErrArrayTooLarge   = errors.New("Array length exceeds the configured maximum")
	ErrNegativeLength  = errors.New("Array length is negative")
	ErrUnknownValueTag = errors.New("Unknown value tag")
)
