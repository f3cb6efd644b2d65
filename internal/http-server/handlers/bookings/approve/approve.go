package approve

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
	"training-service/internal/service"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type BookingApprover interface {
	Approve(ctx context.Context, actor models.Actor, id string, opts service.ApproveOptions) (*models.Booking, error)
}

type Request struct {
	api.ApproveRequest
}

type Response struct {
	response.Response
	Booking *api.BookingResponse `json:"booking,omitempty"`
}

func New(log *slog.Logger, approver BookingApprover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.approve.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := mwAuth.Actor(w, r)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")

		// тело необязательно
		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		booking, err := approver.Approve(r.Context(), actor, id, service.ApproveOptions{ApproveTemplate: req.ApproveTemplate})
		if err != nil {
			log.Error("Failed to approve booking", sl.Err(err))
			status, resp := response.FromError(err, "failed to approve booking")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Booking approved", slog.String("id", booking.ID))

		out := api.Booking(booking)
		render.JSON(w, r, Response{Booking: &out})
	}
}
