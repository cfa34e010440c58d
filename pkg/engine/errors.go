package engine

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the engine.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrQuotaExceeded         = errors.New("guest pass quota exceeded")
	ErrPlanNotEligible       = errors.New("plan not eligible")
	ErrInvitationNotFound    = errors.New("invitation not found")
	ErrInvitationNotActive   = errors.New("invitation not active")
	ErrUpstreamInconsistency = errors.New("upstream inconsistency")
	ErrReferenceApplied      = errors.New("payment reference already applied")
	ErrAccountNotFound       = errors.New("account not found")
	ErrPlanNotFound          = errors.New("plan not found")
	ErrServiceNotFound       = errors.New("service not found")
	ErrNotAffiliate          = errors.New("account is not an affiliate")
	ErrInvalidAccountID      = errors.New("invalid account id")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidReferenceID    = errors.New("invalid reference id")
	ErrInvalidInvitationID   = errors.New("invalid invitation id")
	ErrInvalidPlanID         = errors.New("invalid plan id")
	ErrInvalidServiceID      = errors.New("invalid service id")
	ErrInvalidDuration       = errors.New("invalid duration")
	ErrInvalidMinutes        = errors.New("invalid minutes")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidGrant          = errors.New("invalid entitlement grant")
	ErrInvalidSignal         = errors.New("invalid payment signal")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
