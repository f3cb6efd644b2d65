package get

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"training-service/api"
	"training-service/internal/service"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type BalanceGetter interface {
	Balance(ctx context.Context, clientID string) (*service.BalanceView, error)
}

type Response struct {
	response.Response
	Balance *api.BalanceResponse `json:"balance,omitempty"`
}

func New(log *slog.Logger, getter BalanceGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.balance.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if _, ok := mwAuth.Actor(w, r); !ok {
			return
		}

		view, err := getter.Balance(r.Context(), chi.URLParam(r, "clientID"))
		if err != nil {
			log.Error("Failed to get balance", sl.Err(err))
			status, resp := response.FromError(err, "failed to get balance")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		out := api.Balance(view)
		render.JSON(w, r, Response{Balance: &out})
	}
}
