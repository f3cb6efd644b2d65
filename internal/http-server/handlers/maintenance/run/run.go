package run

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

type SweepRunner interface {
	RunAutoComplete(ctx context.Context) (*service.SweepReport, error)
	RunReminderSweep(ctx context.Context) (*service.SweepReport, error)
}

type Response struct {
	response.Response
	Report *api.SweepResponse `json:"report,omitempty"`
}

// New triggers a sweep on demand. Only directors may do this.
func New(log *slog.Logger, runner SweepRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.maintenance.run.New"

		sweep := chi.URLParam(r, "sweep")

		log := log.With(
			slog.String("op", op),
			slog.String("sweep", sweep),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := mwAuth.Actor(w, r)
		if !ok {
			return
		}
		if actor.Role != models.RoleDirector {
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error(string(response.PERMISSION_DENIED), "director role required"))
			return
		}

		var run func(ctx context.Context) (*service.SweepReport, error)
		switch sweep {
		case "auto-complete":
			run = runner.RunAutoComplete
		case "reminders":
			run = runner.RunReminderSweep
		default:
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "unknown sweep"))
			return
		}

		report, err := run(r.Context())
		if err != nil {
			log.Error("Sweep failed", sl.Err(err))
			status, resp := response.FromError(err, "sweep failed")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		out := api.Sweep(report)
		render.JSON(w, r, Response{Report: &out})
	}
}
