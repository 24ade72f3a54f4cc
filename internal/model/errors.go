package model

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialMissing means no mail credential is held; sync runs offline.
	ErrCredentialMissing = errors.New("mail credential missing")
	// ErrCredentialExpired means the mail server rejected the held credential.
	ErrCredentialExpired = errors.New("mail credential expired")
	// ErrGatewayUnavailable covers network and server failures of any gateway.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	ErrClassificationFailed  = errors.New("reply classification failed")
	ErrDraftGenerationFailed = errors.New("draft generation failed")
	ErrValidation            = errors.New("validation failed")
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
