package handler

import (
	"net/http"

	"nook/internal/pkg/auth"
	"nook/internal/pkg/errs"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/resp"
)

// HandleGetSession returns the identity of the current session. It must run behind auth.RequireIdentity.
func HandleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		resp.RespondSuccess(w, r, identity)
	}
}

// HandleLogout revokes the session carried by the request, if any, and expires both session cookies.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := auth.TokenFromRequest(r); token != "" {
			if err := deps.Sessions.Revoke(r.Context(), token); err != nil {
				logx.Error(err, "Failed to revoke session")
				resp.RespondError(w, r, errs.Wrap(errs.ErrSessionStoreUnavailable, err))
				return
			}
		}

		auth.ExpireCookies(w, deps.Config.SessionCookieSecure)
		resp.RespondSuccess(w, r, nil)
	}
}
