package mwAuth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	jwt "github.com/golang-jwt/jwt/v5"

	"training-service/internal/models"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type ctxKey struct{}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 access token for the actor.
func NewToken(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func Parse(secret, tokenStr string) (models.Actor, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Actor{}, err
	}

	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return models.Actor{}, errors.New("invalid token")
	}

	actor := models.Actor{ID: c.Subject, Role: models.Role(c.Role)}
	// system is reserved for in-process jobs
	if actor.ID == "" || !actor.Role.Valid() || actor.Role == models.RoleSystem {
		return models.Actor{}, errors.New("invalid actor in token")
	}

	return actor, nil
}

func New(log *slog.Logger, secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		log := log.With(
			slog.String("component", "middleware/auth"),
		)

		log.Info("auth middleware enabled")

		fn := func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenStr == "" {
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error(string(response.UNAUTHORIZED), "missing bearer token"))
				return
			}

			actor, err := Parse(secret, tokenStr)
			if err != nil {
				log.Debug("token rejected", sl.Err(err))
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error(string(response.UNAUTHORIZED), "invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		}

		return http.HandlerFunc(fn)
	}
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(models.Actor)
	return actor, ok
}

// Actor reads the caller from the request and answers 401 when absent.
func Actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error(string(response.UNAUTHORIZED), "unauthorized"))
	}
	return actor, ok
}
