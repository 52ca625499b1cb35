package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

// Headers the downstream services trust. Client-supplied values are always
// dropped before a request is forwarded.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload issued by the identity provider. The subject is
// the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	parser *jwt.Parser
	logger *slog.Logger
}

func NewAuthenticator(secret []byte, issuer string, logger *slog.Logger) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(opts...),
		logger: logger,
	}
}

// Verify returns the actor carried by a bearer token.
func (a *Authenticator) Verify(authorization string) (domain.Actor, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.Actor{}, ErrMissingToken
	}

	var claims Claims
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return domain.Actor{ID: claims.Subject, Role: role}, nil
}

// Require rejects requests without a valid token and stamps the verified
// actor onto the request headers.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		StripActor(r)

		actor, err := a.Verify(r.Header.Get("Authorization"))
		if err != nil {
			a.logger.Info("request rejected", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, a.logger)
			return
		}

		r.Header.Set(HeaderActorID, actor.ID)
		r.Header.Set(HeaderActorRole, string(actor.Role))
		next(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

// StripActor removes actor headers a client may have forged.
func StripActor(r *http.Request) {
	r.Header.Del(HeaderActorID)
	r.Header.Del(HeaderActorRole)
}

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor verified by Require.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

func writeUnauthorized(w http.ResponseWriter, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="fulfillment"`)
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "code": "unauthenticated"}); err != nil {
		logger.Error("failed to encode error response", "error", err)
	}
}
