// Package transition serves the booking actions that take at most a reason.
package transition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"training-service/api"
	"training-service/internal/models"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type BookingTransitioner interface {
	Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error)
	Cancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error)
	RequestCancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error)
	ApproveCancel(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
	RejectCancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error)
	ApproveReschedule(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
	RejectReschedule(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error)
	Complete(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
	SetDraft(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
}

type action func(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error)

func withoutReason(fn func(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)) action {
	return func(ctx context.Context, actor models.Actor, id, _ string) (*models.Booking, error) {
		return fn(ctx, actor, id)
	}
}

// Actions maps the {action} URL segment to the engine operation.
func Actions(t BookingTransitioner) map[string]action {
	return map[string]action{
		"reject":             t.Reject,
		"cancel":             t.Cancel,
		"cancel-request":     t.RequestCancel,
		"cancel-approve":     withoutReason(t.ApproveCancel),
		"cancel-reject":      t.RejectCancel,
		"reschedule-approve": withoutReason(t.ApproveReschedule),
		"reschedule-reject":  t.RejectReschedule,
		"complete":           withoutReason(t.Complete),
		"draft":              withoutReason(t.SetDraft),
	}
}

type Request struct {
	api.ReasonRequest
}

type Response struct {
	response.Response
	Booking *api.BookingResponse `json:"booking,omitempty"`
}

func New(log *slog.Logger, transitioner BookingTransitioner) http.HandlerFunc {
	actions := Actions(transitioner)

	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.transition.New"

		name := chi.URLParam(r, "action")

		log := log.With(
			slog.String("op", op),
			slog.String("action", name),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := mwAuth.Actor(w, r)
		if !ok {
			return
		}

		run, ok := actions[name]
		if !ok {
			log.Error("unknown action")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "unknown action"))
			return
		}

		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		booking, err := run(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			log.Error("Failed to apply action", sl.Err(err))
			status, resp := response.FromError(err, "failed to "+name+" booking")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Booking updated", slog.String("id", booking.ID), slog.String("state", string(booking.State)))

		out := api.Booking(booking)
		render.JSON(w, r, Response{Booking: &out})
	}
}
