package upcoming

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"training-service/api"
	"training-service/internal/models"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type UpcomingLister interface {
	UpcomingForClient(ctx context.Context, actor models.Actor, clientID string, from time.Time) ([]*models.Booking, error)
}

type Response struct {
	response.Response
	Bookings []api.BookingResponse `json:"bookings"`
}

func New(log *slog.Logger, lister UpcomingLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.clients.upcoming.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := mwAuth.Actor(w, r)
		if !ok {
			return
		}

		from := time.Now()
		if fromStr := r.URL.Query().Get("from"); fromStr != "" {
			parsed, err := time.Parse(time.RFC3339, fromStr)
			if err != nil {
				log.Error("Invalid from", sl.Err(err))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from must be RFC3339"))
				return
			}
			from = parsed
		}

		bookings, err := lister.UpcomingForClient(r.Context(), actor, chi.URLParam(r, "clientID"), from)
		if err != nil {
			log.Error("Failed to list upcoming bookings", sl.Err(err))
			status, resp := response.FromError(err, "failed to list bookings")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		render.JSON(w, r, Response{Bookings: api.Bookings(bookings)})
	}
}
