package atomicupdate

import (
	"errors"

	"github.com/luma/nearwire/marshal"
)

var (
	ErrIndexConflict = errors.New("Key index already has a near cache outcome")
	ErrInvalidIndex  = errors.New("Key index is negative")
	ErrPlainValue    = errors.New("Plain value bytes can only be read into a byte slice")
)

// UpdateErrorKind identifies UpdateError on the wire.
const UpdateErrorKind = "atomicupdate.update"

const updateErrorMessage = "Failed to update keys on primary node"

// UpdateError aggregates every per-key failure of one atomic update. The
// first failure creates it, each cause is kept as a suppressed error.
type UpdateError struct {
	msg    string
	causes []error
}

func newUpdateError() *UpdateError {
	return &UpdateError{msg: updateErrorMessage}
}

func (e *UpdateError) Error() string {
	return e.msg
}

func (e *UpdateError) ErrorKind() string {
	return UpdateErrorKind
}

// Suppressed returns the per-key causes in the order they were recorded.
func (e *UpdateError) Suppressed() []error {
	return append([]error(nil), e.causes...)
}

func (e *UpdateError) Unwrap() []error {
	return e.causes
}

// RegisterErrors teaches res to rebuild UpdateError from its record.
func RegisterErrors(res *marshal.Resolver) error {
	return res.RegisterFactory(UpdateErrorKind, func(msg string, causes []error) error {
		return &UpdateError{msg: msg, causes: causes}
	})
}
