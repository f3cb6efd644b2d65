package get

import (
	"context"
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

type BookingGetter interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

type Response struct {
	response.Response
	Booking *api.BookingResponse `json:"booking,omitempty"`
}

func New(log *slog.Logger, getter BookingGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if _, ok := mwAuth.Actor(w, r); !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			log.Error("id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "id is required"))
			return
		}

		booking, err := getter.GetBooking(r.Context(), id)
		if err != nil {
			log.Error("Failed to get booking", sl.Err(err))
			status, resp := response.FromError(err, "failed to get booking")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		out := api.Booking(booking)
		render.JSON(w, r, Response{Booking: &out})
	}
}
