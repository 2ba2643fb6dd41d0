package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("commit: %w", Conflict("version_conflict", "stale product"))

	require.True(t, errors.Is(err, &Error{Kind: KindConflict}))
	require.True(t, errors.Is(err, &Error{Kind: KindConflict, Code: "version_conflict"}))
	require.False(t, errors.Is(err, &Error{Kind: KindConflict, Code: "other"}))
	require.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
	require.True(t, HasKind(err, KindConflict))

	e, ok := As(err)
	require.True(t, ok)
	require.Equal(t, "version_conflict", e.Code)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "product 42 not found", NotFound("product", "42").Error())
	assert.Equal(t, "insufficient sku-1: requested 5, available 2", InsufficientResource("sku-1", 5, 2).Error())
	assert.Equal(t, "validation: name_required: name is required", Validation("name_required", "name is required").Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("x", "y"), http.StatusBadRequest},
		{NotFound("product", "1"), http.StatusNotFound},
		{Conflict("x", "y"), http.StatusConflict},
		{Unauthorized(), http.StatusUnauthorized},
		{Forbidden("cross tenant"), http.StatusForbidden},
		{DomainRuleViolation("price_below_cost", "no"), http.StatusUnprocessableEntity},
		{InsufficientResource("sku", 1, 0), http.StatusUnprocessableEntity},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
