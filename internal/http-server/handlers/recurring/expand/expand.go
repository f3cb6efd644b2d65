package expand

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
	"training-service/internal/service"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type TemplateExpander interface {
	Expand(ctx context.Context, actor models.Actor, templateID string, from, to time.Time) (*service.ExpandReport, error)
}

type Request struct {
	api.ExpandRequest
}

type Response struct {
	response.Response
	Report *api.ExpandResponse `json:"report,omitempty"`
}

func New(log *slog.Logger, expander TemplateExpander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.recurring.expand.New"

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

		from, to, err := req.Range()
		if err != nil {
			log.Error("Invalid range", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), err.Error()))
			return
		}

		report, err := expander.Expand(r.Context(), actor, chi.URLParam(r, "id"), from, to)
		if err != nil {
			log.Error("Failed to expand template", sl.Err(err))
			status, resp := response.FromError(err, "failed to expand template")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Template expanded",
			slog.String("template_id", report.TemplateID),
			slog.Int("created", len(report.Created)),
			slog.Int("skipped", len(report.Skipped)),
		)

		out := api.Expansion(report)
		render.JSON(w, r, Response{Report: &out})
	}
}
