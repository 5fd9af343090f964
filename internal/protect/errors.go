package protect

import (
	"errors"
	"fmt"

	"github.com/roach88/vmsync/internal/ir"
)

// Reason is a stable category for a verification failure.
// Callers should branch on Reason rather than matching error strings.
type Reason string

const (
	ReasonMissingEnvelope   Reason = "missing envelope"
	ReasonMissingValue      Reason = "missing value"
	ReasonMalformedEnvelope Reason = "malformed envelope"
	ReasonPathMismatch      Reason = "path mismatch"
	ReasonModeMismatch      Reason = "mode mismatch"
	ReasonSignatureMismatch Reason = "signature mismatch"
	ReasonDecryptFailed     Reason = "decryption failed"
	ReasonStale             Reason = "stale envelope"
	ReasonTypeMismatch      Reason = "type id mismatch"
	ReasonMalformedPayload  Reason = "malformed payload"
)

// VerificationError rejects a client payload. It never carries key
// material or blob contents.
type VerificationError struct {
	Path   ir.Path
	Mode   ir.ProtectMode
	Reason Reason
	Cause  error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("protected data at %s (%s): %s", e.Path, e.Mode, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// IsVerificationError returns true if err is or wraps a VerificationError.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// ReasonOf returns the Reason of a verification error, or "" otherwise.
func ReasonOf(err error) Reason {
	var ve *VerificationError
	if !errors.As(err, &ve) {
		return ""
	}
	return ve.Reason
}
