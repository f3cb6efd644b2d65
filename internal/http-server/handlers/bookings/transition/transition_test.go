package transition

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"training-service/internal/models"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
)

type call struct {
	method string
	id     string
	reason string
}

type fakeTransitioner struct {
	calls []call
	err   error
}

func (f *fakeTransitioner) do(method string, id, reason string) (*models.Booking, error) {
	f.calls = append(f.calls, call{method: method, id: id, reason: reason})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Booking{ID: id, State: models.BookingCancelled}, nil
}

func (f *fakeTransitioner) Reject(_ context.Context, _ models.Actor, id, reason string) (*models.Booking, error) {
	return f.do("Reject", id, reason)
}
func (f *fakeTransitioner) Cancel(_ context.Context, _ models.Actor, id, reason string) (*models.Booking, error) {
	return f.do("Cancel", id, reason)
}
func (f *fakeTransitioner) RequestCancel(_ context.Context, _ models.Actor, id, reason string) (*models.Booking, error) {
	return f.do("RequestCancel", id, reason)
}
func (f *fakeTransitioner) ApproveCancel(_ context.Context, _ models.Actor, id string) (*models.Booking, error) {
	return f.do("ApproveCancel", id, "")
}
func (f *fakeTransitioner) RejectCancel(_ context.Context, _ models.Actor, id, reason string) (*models.Booking, error) {
	return f.do("RejectCancel", id, reason)
}
func (f *fakeTransitioner) ApproveReschedule(_ context.Context, _ models.Actor, id string) (*models.Booking, error) {
	return f.do("ApproveReschedule", id, "")
}
func (f *fakeTransitioner) RejectReschedule(_ context.Context, _ models.Actor, id, reason string) (*models.Booking, error) {
	return f.do("RejectReschedule", id, reason)
}
func (f *fakeTransitioner) Complete(_ context.Context, _ models.Actor, id string) (*models.Booking, error) {
	return f.do("Complete", id, "")
}
func (f *fakeTransitioner) SetDraft(_ context.Context, _ models.Actor, id string) (*models.Booking, error) {
	return f.do("SetDraft", id, "")
}

func serve(t *testing.T, f *fakeTransitioner, path, body string, withActor bool) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	router.Post("/bookings/{id}/{action}", New(slog.New(slog.NewTextHandler(io.Discard, nil)), f))

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, reader)
	if withActor {
		req = req.WithContext(mwAuth.WithActor(req.Context(), models.Actor{ID: "manager-1", Role: models.RoleManager}))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTransition_DispatchesAction(t *testing.T) {
	f := &fakeTransitioner{}

	rec := serve(t, f, "/bookings/b-1/reject", `{"reason":"court closed"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.calls, 1)
	assert.Equal(t, call{method: "Reject", id: "b-1", reason: "court closed"}, f.calls[0])

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Booking)
	assert.Equal(t, "cancelled", resp.Booking.State)
}

func TestTransition_EmptyBodyAllowed(t *testing.T) {
	f := &fakeTransitioner{}

	rec := serve(t, f, "/bookings/b-2/complete", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Complete", f.calls[0].method)
}

func TestTransition_Errors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		err    error
		actor  bool
		status int
		code   response.ErrCode
	}{
		{name: "no actor", path: "/bookings/b-1/cancel", actor: false, status: http.StatusUnauthorized, code: response.UNAUTHORIZED},
		{name: "unknown action", path: "/bookings/b-1/explode", actor: true, status: http.StatusNotFound, code: response.NOT_FOUND},
		{name: "invalid transition", path: "/bookings/b-1/cancel-approve", err: response.ErrInvalidStateTransition, actor: true, status: http.StatusConflict, code: response.INVALID_STATE_TRANSITION},
		{name: "permission", path: "/bookings/b-1/cancel", err: response.ErrPermissionDenied, actor: true, status: http.StatusForbidden, code: response.PERMISSION_DENIED},
		{name: "shortfall", path: "/bookings/b-1/complete", err: response.InsufficientBalance([]response.Shortfall{{ClientID: "c", Balance: 0, Required: 300}}), actor: true, status: http.StatusUnprocessableEntity, code: response.INSUFFICIENT_BALANCE},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, &fakeTransitioner{err: tc.err}, tc.path, "", tc.actor)
			assert.Equal(t, tc.status, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(tc.code), resp.Code)
		})
	}
}
