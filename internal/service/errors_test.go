package service

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		kind   ErrorKind
		status int
	}{
		{KindInvalidPayload, http.StatusBadRequest},
		{KindInsufficientLoyaltyPoints, http.StatusUnprocessableEntity},
		{KindPaymentValidationFailed, http.StatusUnprocessableEntity},
		{KindPersistenceFailure, http.StatusServiceUnavailable},
		{KindSaleNotFound, http.StatusNotFound},
		{KindSaleAlreadyReturned, http.StatusConflict},
		{KindStoreMismatch, http.StatusConflict},
		{KindReturnQuantityExceedsRemaining, http.StatusUnprocessableEntity},
		{KindNewProductNotFound, http.StatusNotFound},
		{ErrorKind("Unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := newLedgerError(tt.kind, "boom")
			assert.Equal(t, tt.status, err.HTTPStatus())
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", invalidPayload("bad"))
	assert.Equal(t, KindInvalidPayload, KindOf(wrapped))
	assert.Equal(t, KindPersistenceFailure, KindOf(errors.New("connection reset")))
}

func TestAsLedgerErrorWrapsStorageErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := asLedgerError("record sale", cause)

	le, ok := AsLedgerError(err)
	assert.True(t, ok)
	assert.True(t, le.Retryable())
	assert.ErrorIs(t, err, cause)

	original := newLedgerError(KindStoreMismatch, "other store")
	assert.Same(t, original, asLedgerError("record sale", original))
	assert.Nil(t, asLedgerError("record sale", nil))
}
