package post

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

type LedgerWriter interface {
	Deposit(ctx context.Context, actor models.Actor, clientID string, amount int64, description string) (*models.LedgerTransaction, error)
	Withdraw(ctx context.Context, actor models.Actor, clientID string, amount int64, bookingID, description string) (*models.LedgerTransaction, error)
}

type Request struct {
	api.MoneyRequest
}

type Response struct {
	response.Response
	Transaction *api.TransactionResponse `json:"transaction,omitempty"`
}

// New serves /clients/{clientID}/deposit and /clients/{clientID}/withdraw.
func New(log *slog.Logger, writer LedgerWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.balance.post.New"

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

		clientID := chi.URLParam(r, "clientID")

		var (
			tx  *models.LedgerTransaction
			err error
		)
		switch chi.URLParam(r, "type") {
		case "deposit":
			tx, err = writer.Deposit(r.Context(), actor, clientID, req.Amount, req.Description)
		case "withdraw":
			tx, err = writer.Withdraw(r.Context(), actor, clientID, req.Amount, req.BookingID, req.Description)
		default:
			log.Error("unknown transaction type")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "unknown transaction type"))
			return
		}

		if err != nil {
			log.Error("Failed to post transaction", sl.Err(err))
			status, resp := response.FromError(err, "failed to post transaction")
			w.WriteHeader(status)
			render.JSON(w, r, resp)
			return
		}

		log.Info("Transaction posted",
			slog.String("client_id", tx.ClientID),
			slog.String("type", string(tx.Type)),
			slog.Int64("amount", tx.Amount),
		)

		out := api.Transaction(*tx)
		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, Response{Transaction: &out})
	}
}
