package domain

import "errors"

// DomainError represents a domain-specific error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}

// Validation errors: surfaced to the caller immediately, never retried,
// no state mutation occurs.
var (
	ErrInvalidGeometry     = NewDomainError("field geometry fractions must lie within [0,1]")
	ErrPageOutOfRange      = NewDomainError("field page index exceeds document page count")
	ErrUnknownField        = NewDomainError("field does not belong to this document")
	ErrUnknownRecipient    = NewDomainError("recipient does not belong to this document")
	ErrDocumentNotEditable = NewDomainError("document layout is frozen once sent")
	ErrIncompleteFields    = NewDomainError("required fields are not yet filled")
	ErrInvalidFieldValue   = NewDomainError("field value does not match the field type")
	ErrNoRecipients        = NewDomainError("document needs at least one recipient before sending")
	ErrNoRequiredFields    = NewDomainError("document needs at least one required assigned field before sending")
)

// Authorization errors: surfaced to the caller and recorded as a
// denied-action audit entry, no state mutation.
var (
	ErrTokenInvalid   = NewDomainError("token is not recognized")
	ErrTokenExpired   = NewDomainError("token has expired")
	ErrTokenRevoked   = NewDomainError("token has been revoked")
	ErrOutOfOrder     = NewDomainError("an earlier signing tier has not completed")
	ErrDocumentLocked = NewDomainError("document composition is in flight")
)

// Lifecycle and infrastructure errors
var (
	ErrDocumentNotFound  = NewDomainError("document not found")
	ErrRecipientNotFound = NewDomainError("recipient not found")
	ErrFieldNotFound     = NewDomainError("field not found")
	ErrInvalidTransition = NewDomainError("invalid status transition")

	// ErrInvariantViolation marks defects that must never occur under
	// correct operation. Callers abort loudly instead of repairing.
	ErrInvariantViolation = NewDomainError("internal invariant violated")
)

// IsValidation reports whether err belongs to the validation category
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrInvalidGeometry, ErrPageOutOfRange, ErrUnknownField, ErrUnknownRecipient,
		ErrDocumentNotEditable, ErrIncompleteFields, ErrInvalidFieldValue,
		ErrNoRecipients, ErrNoRequiredFields,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// IsAuthorization reports whether err belongs to the authorization category
func IsAuthorization(err error) bool {
	for _, v := range []error{
		ErrTokenInvalid, ErrTokenExpired, ErrTokenRevoked, ErrOutOfOrder, ErrDocumentLocked,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// IsTokenFailure reports whether err should surface to recipients as the
// generic "link no longer valid" message, without distinguishing expired
// from revoked
func IsTokenFailure(err error) bool {
	return errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked)
}
