package protocol

import "github.com/tphakala/birdnet-relay/internal/errors"

// CodeFor maps an error to the code reported to clients.
func CodeFor(err error) string {
	switch {
	case errors.IsInvalidArgument(err):
		return CodeInvalidArgument
	case errors.IsStoreUnavailable(err):
		return CodeStoreUnavailable
	default:
		return CodeInternal
	}
}

// ErrorFor builds the subscriber error message for err.
func ErrorFor(err error) ErrorMessage {
	return ErrorMessage{Code: CodeFor(err), Message: err.Error()}
}
