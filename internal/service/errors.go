package service

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a ledger failure for callers
type ErrorKind string

const (
	KindInvalidPayload                 ErrorKind = "InvalidPayload"
	KindInsufficientLoyaltyPoints      ErrorKind = "InsufficientLoyaltyPoints"
	KindPaymentValidationFailed        ErrorKind = "PaymentValidationFailed"
	KindPersistenceFailure             ErrorKind = "PersistenceFailure"
	KindSaleNotFound                   ErrorKind = "SaleNotFound"
	KindSaleAlreadyReturned            ErrorKind = "SaleAlreadyReturned"
	KindStoreMismatch                  ErrorKind = "StoreMismatch"
	KindReturnQuantityExceedsRemaining ErrorKind = "ReturnQuantityExceedsRemaining"
	KindNewProductNotFound             ErrorKind = "NewProductNotFound"

	// KindNotFound is returned by the read paths
	KindNotFound ErrorKind = "NotFound"
)

var kindStatus = map[ErrorKind]int{
	KindInvalidPayload:                 http.StatusBadRequest,
	KindInsufficientLoyaltyPoints:      http.StatusUnprocessableEntity,
	KindPaymentValidationFailed:        http.StatusUnprocessableEntity,
	KindPersistenceFailure:             http.StatusServiceUnavailable,
	KindSaleNotFound:                   http.StatusNotFound,
	KindSaleAlreadyReturned:            http.StatusConflict,
	KindStoreMismatch:                  http.StatusConflict,
	KindReturnQuantityExceedsRemaining: http.StatusUnprocessableEntity,
	KindNewProductNotFound:             http.StatusNotFound,
	KindNotFound:                       http.StatusNotFound,
}

// LedgerError is the error every ledger operation fails with
type LedgerError struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status
func (e *LedgerError) HTTPStatus() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the same request may succeed later
func (e *LedgerError) Retryable() bool {
	return e.Kind == KindPersistenceFailure
}

// WithDetail adds a single detail to the error
func (e *LedgerError) WithDetail(key, value string) *LedgerError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap wraps an existing error
func (e *LedgerError) Wrap(err error) *LedgerError {
	e.Err = err
	return e
}

func newLedgerError(kind ErrorKind, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidPayload(format string, args ...interface{}) *LedgerError {
	return newLedgerError(KindInvalidPayload, format, args...)
}

func persistenceFailure(action string, err error) *LedgerError {
	return newLedgerError(KindPersistenceFailure, "failed to %s", action).Wrap(err)
}

// AsLedgerError extracts a LedgerError from err's chain
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// KindOf returns the kind of err, treating anything unclassified as a persistence failure
func KindOf(err error) ErrorKind {
	if le, ok := AsLedgerError(err); ok {
		return le.Kind
	}
	return KindPersistenceFailure
}

// asLedgerError passes LedgerErrors through and wraps anything else as a persistence failure
func asLedgerError(action string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsLedgerError(err); ok {
		return err
	}
	return persistenceFailure(action, err)
}
