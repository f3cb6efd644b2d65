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

type TemplateGetter interface {
	GetTemplate(ctx context.Context, id string) (*models.RecurringTemplate, error)
}

type Response struct {
	response.Response
	Template *api.TemplateResponse `json:"template,omitempty"`
}

func New(log *slog.Logger, getter TemplateGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.recurring.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if _, ok := mwAuth.Actor(w, r); !ok {
			return
		}

		tpl, err := getter.GetTemplate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			log.Error("Failed to get template", sl.Err(err))
			status, resp := response.FromError(err, "failed to get template")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		out := api.Template(tpl)
		render.JSON(w, r, Response{Template: &out})
	}
}
