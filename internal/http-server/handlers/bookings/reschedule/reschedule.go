package reschedule

import (
	"context"
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

type BookingRescheduler interface {
	Reschedule(ctx context.Context, actor models.Actor, id string, in service.RescheduleInput) (*models.Booking, error)
	RequestReschedule(ctx context.Context, actor models.Actor, id string, in service.RescheduleInput) (*models.Booking, error)
}

type Request struct {
	api.RescheduleRequest
}

type Response struct {
	response.Response
	Booking *api.BookingResponse `json:"booking,omitempty"`
}

// New moves the booking right away.
func New(log *slog.Logger, rescheduler BookingRescheduler) http.HandlerFunc {
	return handle(log, "handlers.bookings.reschedule.New", rescheduler.Reschedule)
}

// NewRequest files a reschedule request for the manager.
func NewRequest(log *slog.Logger, rescheduler BookingRescheduler) http.HandlerFunc {
	return handle(log, "handlers.bookings.reschedule.NewRequest", rescheduler.RequestReschedule)
}

func handle(
	log *slog.Logger,
	op string,
	move func(ctx context.Context, actor models.Actor, id string, in service.RescheduleInput) (*models.Booking, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := mwAuth.Actor(w, r)
		if !ok {
			return
		}

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		log.Info("Request body decoded", slog.Any("request", req))

		if req.Start.IsZero() || req.End.IsZero() {
			log.Error("start or end is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "start and end are required"))
			return
		}

		booking, err := move(r.Context(), actor, chi.URLParam(r, "id"), req.Input())
		if err != nil {
			log.Error("Failed to reschedule booking", sl.Err(err))
			status, resp := response.FromError(err, "failed to reschedule booking")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Booking rescheduled", slog.String("id", booking.ID))

		out := api.Booking(booking)
		render.JSON(w, r, Response{Booking: &out})
	}
}
