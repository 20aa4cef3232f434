package service

import (
	"errors"
	"fmt"
)

// Standard error kinds. Callers classify with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrMissingTxRef       = errors.New("transaction reference missing")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrInternal           = errors.New("internal error")
)

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a not-found error for resource/id.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports malformed caller input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RequiredError reports a missing required field.
func RequiredError(field string) *ValidationError {
	return NewValidationError(field, "is required")
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// OwnershipError reports that a resource does not belong to the requester.
type OwnershipError struct {
	Resource  string
	ID        string
	AccountID string
}

// NewOwnershipError creates an ownership error.
func NewOwnershipError(resource, id, accountID string) *OwnershipError {
	return &OwnershipError{Resource: resource, ID: id, AccountID: accountID}
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s does not belong to account %s", e.Resource, e.ID, e.AccountID)
}

func (e *OwnershipError) Unwrap() error { return ErrForbidden }

// EnsureOwnership returns an OwnershipError unless both account ids match.
func EnsureOwnership(resourceAccountID, requestAccountID, resourceType, resourceID string) error {
	if resourceAccountID == requestAccountID && requestAccountID != "" {
		return nil
	}
	return NewOwnershipError(resourceType, resourceID, requestAccountID)
}

// TransitionError reports a state change the transition table rejects.
type TransitionError struct {
	Resource string
	ID       string
	From     string
	Event    string
}

func (e *TransitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s not allowed from status %s", e.Resource, e.Event, e.From)
	}
	return fmt.Sprintf("%s %s: %s not allowed from status %s", e.Resource, e.ID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStatus }

// ServiceError prefixes an error with the service and operation that failed.
type ServiceError struct {
	Service   string
	Operation string
	Err       error
}

// WrapServiceError wraps err; nil stays nil.
func WrapServiceError(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Operation: operation, Err: err}
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Operation, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// StoreUnavailable wraps an infrastructure failure that aborts a whole batch.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsValidationError(err error) bool  { return errors.Is(err, ErrInvalidInput) }
func IsForbidden(err error) bool        { return errors.Is(err, ErrForbidden) }
func IsInvalidStatus(err error) bool    { return errors.Is(err, ErrInvalidStatus) }
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// IsOwnershipError reports whether err is an *OwnershipError.
func IsOwnershipError(err error) bool {
	var oe *OwnershipError
	return errors.As(err, &oe)
}
