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

type TemplateCreator interface {
	CreateTemplate(ctx context.Context, actor models.Actor, in service.TemplateInput) (*models.RecurringTemplate, error)
}

type Request struct {
	api.TemplateRequest
}

type Response struct {
	response.Response
	Template *api.TemplateResponse `json:"template,omitempty"`
}

func New(log *slog.Logger, creator TemplateCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.recurring.create.New"

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

		in, err := req.Input()
		if err != nil {
			log.Error("Invalid template request", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), err.Error()))
			return
		}

		tpl, err := creator.CreateTemplate(r.Context(), actor, in)
		if err != nil {
			log.Error("Failed to create template", sl.Err(err))
			status, resp := response.FromError(err, "failed to create template")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Template created", slog.String("id", tpl.ID), slog.Bool("approved", tpl.Approved))

		out := api.Template(tpl)
		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, Response{Template: &out})
	}
}
