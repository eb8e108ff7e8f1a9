/*
Package auth extracts the session token from incoming requests and resolves it to an identity.

The token travels in the nook_session cookie, or in nook_admin for administrator sessions.
Validation itself is delegated to a Validator, normally the session authority.
*/
package auth

import (
	"context"
	"errors"
	"net/http"

	"nook/internal/app/session"
	"nook/internal/app/user"
	"nook/internal/pkg/errs"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/resp"
)

const (
	// SessionCookie carries member session tokens.
	SessionCookie = "nook_session"

	// AdminCookie carries admin session tokens. It is consulted when SessionCookie is absent.
	AdminCookie = "nook_admin"
)

// Define Context Key for storing the Identity, preventing key collisions with other packages.
type contextKey string

// ContextIdentityKey is the key used to store the authenticated user.Identity in the request Context.
const ContextIdentityKey contextKey = "auth_identity"

// Validator resolves a session token to an identity.
type Validator interface {
	Validate(ctx context.Context, token string) (user.Identity, error)
}

// TokenFromRequest returns the session token carried by r, or "" when there is none.
func TokenFromRequest(r *http.Request) string {
	for _, name := range []string{SessionCookie, AdminCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// Authenticate validates the token carried by r. Errors are ready to be written with resp.RespondError:
// ErrUnauthorized for a missing, unknown or expired token and ErrSessionStoreUnavailable when the
// store cannot be reached.
func Authenticate(r *http.Request, v Validator) (user.Identity, *errs.CustomError) {
	token := TokenFromRequest(r)
	if token == "" {
		return user.Identity{}, errs.NewError(errs.ErrUnauthorized)
	}

	identity, err := v.Validate(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			return user.Identity{}, errs.Wrap(errs.ErrUnauthorized, err)
		}
		logx.Error(err, "Session validation failed", "path", r.URL.Path)
		return user.Identity{}, errs.Wrap(errs.ErrSessionStoreUnavailable, err)
	}

	return identity, nil
}

// RequireIdentity rejects requests without a valid session and injects the Identity into the Context otherwise.
func RequireIdentity(v Validator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, customErr := Authenticate(r, v)
			if customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}

			ctx := context.WithValue(r.Context(), ContextIdentityKey, identity)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext safely extracts the authenticated Identity from the Context.
func IdentityFromContext(ctx context.Context) (user.Identity, bool) {
	identity, ok := ctx.Value(ContextIdentityKey).(user.Identity)
	return identity, ok
}

// ExpireCookies instructs the browser to drop both session cookies.
func ExpireCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{SessionCookie, AdminCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
