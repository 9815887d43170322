package jwt

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"agora/internal/app/user"
	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
	"agora/internal/pkg/resp"
)

type contextKey string

const (
	// ContextIdentityKey stores the verified user.Identity in a request context.
	ContextIdentityKey contextKey = "auth_identity"

	// TokenQueryParam is the dedicated handshake auth field for clients that cannot set headers.
	TokenQueryParam = "token"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// HandshakeCredential returns the credential presented at handshake time.
// The Authorization header takes precedence over the dedicated auth field.
func HandshakeCredential(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

// Authenticator is the gateway entry guard. It runs once per connection attempt,
// before any room, presence or notification handler sees the connection.
type Authenticator struct {
	verifier *Verifier
	logger   zerolog.Logger
}

// NewAuthenticator builds an Authenticator around verifier.
func NewAuthenticator(verifier *Verifier) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		logger:   logx.Component("authenticator"),
	}
}

// Authenticate verifies the handshake credential of r for the connection handle.
// The raw credential is never logged.
func (a *Authenticator) Authenticate(handle string, r *http.Request) (user.Identity, *errs.CustomError) {
	credential := HandshakeCredential(r)
	if credential == "" {
		a.logger.Warn().
			Str("conn_id", handle).
			Msg("Connection rejected: no credential presented.")
		return user.Identity{}, errs.NewError(errs.ErrAuthenticationRequired)
	}

	identity, err := a.verifier.Verify(credential)
	if err != nil {
		a.logger.Warn().
			Str("conn_id", handle).
			Str("reason", err.Error()).
			Msg("Connection rejected: token verification failed.")
		return user.Identity{}, errs.NewError(errs.ErrInvalidToken)
	}

	a.logger.Info().
		Str("conn_id", handle).
		Str("user_id", identity.ID).
		Msg("Connection authenticated.")

	return identity, nil
}

// RequireIdentity is HTTP middleware that rejects requests without a valid bearer token.
// When role is non-empty the identity must also carry it.
func RequireIdentity(verifier *Verifier, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrAuthenticationRequired))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Rejected bearer token")
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidToken))
				return
			}

			if role != "" && !identity.HasRole(role) {
				resp.RespondError(w, r, errs.NewError(errs.ErrForbidden))
				return
			}

			ctx := context.WithValue(r.Context(), ContextIdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by RequireIdentity.
func IdentityFromContext(ctx context.Context) (user.Identity, bool) {
	identity, ok := ctx.Value(ContextIdentityKey).(user.Identity)
	return identity, ok
}
