package create

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"training-service/api"
	"training-service/internal/models"
	"training-service/internal/service"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type BookingCreator interface {
	CreateBooking(ctx context.Context, actor models.Actor, in service.CreateBookingInput) (*models.Booking, error)
}

type Request struct {
	api.BookingRequest
}

type Response struct {
	response.Response
	Booking *api.BookingResponse `json:"booking,omitempty"`
}

func New(log *slog.Logger, creator BookingCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.create.New"

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

		if req.CourtID == "" || req.TrainerID == "" || req.TrainingTypeID == "" {
			log.Error("court_id, trainer_id or training_type_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "court_id, trainer_id and training_type_id are required"))
			return
		}

		booking, err := creator.CreateBooking(r.Context(), actor, req.Input())
		if err != nil {
			log.Error("Failed to create booking", sl.Err(err))
			status, resp := response.FromError(err, "failed to create booking")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Booking created", slog.String("id", booking.ID), slog.String("state", string(booking.State)))

		out := api.Booking(booking)
		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, Response{Booking: &out})
	}
}
