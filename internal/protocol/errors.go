package protocol

import "fmt"

// MalformedMessageError marks a wire line that could not be decoded into a
// request: invalid JSON or a missing required field. It is recovered
// per-request; the connection stays open.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}
