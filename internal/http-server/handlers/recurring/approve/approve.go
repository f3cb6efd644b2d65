package approve

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

type TemplateApprover interface {
	ApproveTemplate(ctx context.Context, actor models.Actor, id string) (*models.RecurringTemplate, error)
}

type Response struct {
	response.Response
	Template *api.TemplateResponse `json:"template,omitempty"`
}

func New(log *slog.Logger, svc TemplateApprover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.recurring.approve.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := mwAuth.Actor(w, r)
		if !ok {
			return
		}

		tpl, err := svc.ApproveTemplate(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			log.Error("Failed to approve template", sl.Err(err))
			status, resp := response.FromError(err, "failed to approve template")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Template approved", slog.String("id", tpl.ID))

		out := api.Template(tpl)
		render.JSON(w, r, Response{Template: &out})
	}
}
