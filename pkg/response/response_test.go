package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorUnwrapsToKind(t *testing.T) {
	err := fmt.Errorf("%s: %w", "service.Create", Invalid(ErrResourceOverlap, "court %s is busy", "c1"))

	assert.ErrorIs(t, err, ErrResourceOverlap)
	assert.NotErrorIs(t, err, ErrOutsideWorkHours)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "court c1 is busy", verr.Reason)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrCode
	}{
		{"overlap", Invalid(ErrResourceOverlap, "x"), http.StatusConflict, RESOURCE_OVERLAP},
		{"time range", Invalid(ErrTimeRangeInvalid, "x"), http.StatusBadRequest, TIME_RANGE_INVALID},
		{"permission", fmt.Errorf("op: %w", Invalid(ErrPermissionDenied, "x")), http.StatusForbidden, PERMISSION_DENIED},
		{"not found", fmt.Errorf("op: %w", ErrNotFound), http.StatusNotFound, NOT_FOUND},
		{"locked", ErrLocked, http.StatusLocked, LOCKED},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, FAILED_REQUEST},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := FromError(tt.err, "failed")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, string(tt.code), resp.Code)
		})
	}
}

func TestFromErrorCarriesShortfalls(t *testing.T) {
	err := InsufficientBalance([]Shortfall{{ClientID: "c1", Balance: 100, Required: 300}})

	status, resp := FromError(err, "failed")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, int64(300), resp.Details[0].Required)
	assert.Contains(t, resp.Message, "client c1 has 100, needs 300")
}
