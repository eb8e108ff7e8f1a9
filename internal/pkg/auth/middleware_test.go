package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nook/internal/app/session"
	"nook/internal/app/user"
	"nook/internal/pkg/auth"
	"nook/internal/pkg/errs"
)

type stubValidator map[string]user.Identity

func (s stubValidator) Validate(_ context.Context, token string) (user.Identity, error) {
	if token == "broken" {
		return user.Identity{}, errors.Join(session.ErrUnavailable, errors.New("disk on fire"))
	}
	id, ok := s[token]
	if !ok {
		return user.Identity{}, session.ErrUnauthenticated
	}
	return id, nil
}

var ann = user.Identity{ID: "ann", DisplayName: "Ann", Role: user.RoleMember}

func TestTokenFromRequestPrefersSessionCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, auth.TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: auth.AdminCookie, Value: "admin-token"})
	assert.Equal(t, "admin-token", auth.TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "member-token"})
	assert.Equal(t, "member-token", auth.TokenFromRequest(r))
}

func TestAuthenticate(t *testing.T) {
	v := stubValidator{"good": ann}

	tests := []struct {
		name     string
		cookie   string
		wantCode int
	}{
		{"missing", "", errs.ErrUnauthorized},
		{"unknown", "nope", errs.ErrUnauthorized},
		{"store down", "broken", errs.ErrSessionStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tt.cookie})
			}

			_, customErr := auth.Authenticate(r, v)
			require.NotNil(t, customErr)
			assert.Equal(t, tt.wantCode, customErr.Code)
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "good"})
	id, customErr := auth.Authenticate(r, v)
	require.Nil(t, customErr)
	assert.Equal(t, ann, id)
}

func TestRequireIdentity(t *testing.T) {
	h := auth.RequireIdentity(stubValidator{"good": ann})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, ann, id)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, errs.ErrUnauthorized, body["code"])

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "good"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExpireCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	auth.ExpireCookies(rec, true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
		assert.True(t, c.Secure)
		assert.True(t, c.HttpOnly)
	}
}
