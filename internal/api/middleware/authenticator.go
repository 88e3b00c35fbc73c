package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"taskmanager/internal/api/httperr"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"
	"taskmanager/internal/token"

	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the authenticated *model.User.
const PrincipalKey = "principal"

// ErrUnauthenticated is matched by every authentication failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenVerifier verifies a bearer token and returns the user id it carries.
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// UserFinder resolves a user id to a stored user.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

// AuthError records why a request was rejected. The reason is for logs and
// metrics only; clients always see the same 401 body.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "unauthenticated (" + e.Reason + "): " + e.Err.Error()
	}
	return "unauthenticated (" + e.Reason + ")"
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnauthenticated, e.Err}
	}
	return []error{ErrUnauthenticated}
}

// Authenticator turns an Authorization header into a principal.
type Authenticator struct {
	tokens TokenVerifier
	users  UserFinder
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens TokenVerifier, users UserFinder, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		users:  users,
		logger: logger,
	}
}

// Authenticate resolves the principal for an Authorization header value.
//
// It fails with an *AuthError when the header is missing, is not a bearer
// credential, the token does not verify, or the user no longer exists.
// Store failures are returned unchanged so they surface as internal errors.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*model.User, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, &AuthError{Reason: "missing_header"}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, &AuthError{Reason: "bad_scheme"}
	}

	userID, err := a.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, &AuthError{Reason: token.Reason(err), Err: err}
	}

	user, err := a.users.FindUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AuthError{Reason: "unknown_user", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Middleware verifies the bearer token and stores the user in the context.
//
// Every authentication failure gets the same 401 response. The reason only
// reaches the logs and the auth failure metric.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				metrics.AuthFailuresTotal.WithLabelValues(authErr.Reason).Inc()
				if a.logger != nil {
					a.logger.Debug("authentication failed",
						slog.String("reason", authErr.Reason),
						slog.String("path", c.Request.URL.Path),
						slog.String("client_ip", c.ClientIP()),
					)
				}
				httperr.Abort(c, httperr.Wrap(httperr.Unauthenticated, "Authentication required", err))
				return
			}
			if a.logger != nil {
				a.logger.Error("resolve principal failed", slog.String("error", err.Error()))
			}
			httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
			return
		}

		c.Set(PrincipalKey, user)
		c.Next()
	}
}

// Principal returns the authenticated user stored by Middleware.
func Principal(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}
