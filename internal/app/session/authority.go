/*
Package session implements the session authority: it turns an opaque bearer token into an
authenticated identity and owns the lifecycle of the session rows behind those tokens.

Sessions are never updated in place. Login issues a new row, logout deletes it, and expired
rows are removed either by a periodic reaper (Run) or, when no reaper is configured, by an
inline sweep at the start of every Validate call.
*/
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nook/internal/app/user"
	"nook/internal/configs"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/metrics"
	"nook/internal/pkg/randx"
	"nook/internal/pkg/telemetry"
)

var (
	// ErrUnauthenticated means the token is missing, unknown, expired or belongs to an unapproved account.
	ErrUnauthenticated = errors.New("session: unauthenticated")

	// ErrUnavailable means the session store could not be queried.
	ErrUnavailable = errors.New("session: store unavailable")
)

// Validation outcomes recorded in metrics.
const (
	outcomeOK              = "ok"
	outcomeUnauthenticated = "unauthenticated"
	outcomeError           = "error"
)

const (
	selectIdentityQuery = `
SELECT u.id, u.name, s.role
FROM sessions s
JOIN users u ON u.id = s.user_id
WHERE s.token = ? AND s.expires_at > ? AND u.approved = 1`

	insertSessionQuery = `INSERT INTO sessions (token, user_id, role, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`

	deleteSessionQuery = `DELETE FROM sessions WHERE token = ?`

	deleteExpiredQuery = `DELETE FROM sessions WHERE expires_at <= ?`
)

// Session is a persisted token-to-identity binding.
type Session struct {
	Token      string
	IdentityID string
	Role       user.Role
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Authority validates, issues and expires sessions.
type Authority struct {
	db *sqlx.DB

	memberTTL time.Duration
	adminTTL  time.Duration

	// inlineSweep deletes expired rows at the start of every Validate call.
	inlineSweep bool

	now func() time.Time

	logger zerolog.Logger
}

// Option configures an Authority.
type Option func(*Authority)

// WithLifetimes overrides the member and admin session lifetimes.
func WithLifetimes(member, admin time.Duration) Option {
	return func(a *Authority) {
		a.memberTTL = member
		a.adminTTL = admin
	}
}

// WithInlineSweep makes Validate delete expired sessions before every lookup.
// Use it when no reaper goroutine is running.
func WithInlineSweep() Option {
	return func(a *Authority) {
		a.inlineSweep = true
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// NewAuthority constructs an Authority over the sessions and users tables of db.
func NewAuthority(db *sqlx.DB, opts ...Option) *Authority {
	a := &Authority{
		db:        db,
		memberTTL: configs.DefaultMemberSessionTTL,
		adminTTL:  configs.DefaultAdminSessionTTL,
		now:       time.Now,
		logger:    logx.Component("SessionAuthority"),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Lifetime returns how long a new session for role stays valid.
func (a *Authority) Lifetime(role user.Role) time.Duration {
	if role == user.RoleAdmin {
		return a.adminTTL
	}
	return a.memberTTL
}

// Validate resolves token to the identity it was issued for.
// It returns ErrUnauthenticated for unknown or expired tokens and ErrUnavailable when the store fails.
func (a *Authority) Validate(ctx context.Context, token string) (user.Identity, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "session.validate")
	defer span.End()

	if !randx.IsWellFormedToken(token) {
		metrics.IncSessionValidation(outcomeUnauthenticated)
		span.SetAttributes(attribute.String("session.outcome", outcomeUnauthenticated))
		return user.Identity{}, ErrUnauthenticated
	}

	now := a.now()

	if a.inlineSweep {
		if _, err := a.reap(ctx, now); err != nil {
			metrics.IncSessionValidation(outcomeError)
			span.RecordError(err)
			span.SetStatus(codes.Error, "sweep failed")
			return user.Identity{}, err
		}
	}

	var row struct {
		ID   string `db:"id"`
		Name string `db:"name"`
		Role string `db:"role"`
	}

	err := a.db.GetContext(ctx, &row, a.db.Rebind(selectIdentityQuery), token, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		metrics.IncSessionValidation(outcomeUnauthenticated)
		span.SetAttributes(attribute.String("session.outcome", outcomeUnauthenticated))
		return user.Identity{}, ErrUnauthenticated
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("Session lookup failed")
		metrics.IncSessionValidation(outcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return user.Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	role, err := user.ParseRole(row.Role)
	if err != nil {
		a.logger.Error().Err(err).Str("identity_id", row.ID).Msg("Session carries an unknown role")
		metrics.IncSessionValidation(outcomeUnauthenticated)
		return user.Identity{}, ErrUnauthenticated
	}

	metrics.IncSessionValidation(outcomeOK)
	span.SetAttributes(
		attribute.String("session.outcome", outcomeOK),
		attribute.String("identity.role", string(role)),
	)

	return user.Identity{ID: row.ID, DisplayName: row.Name, Role: role}, nil
}

// Create issues a fresh session for identityID. The lifetime is selected by role.
func (a *Authority) Create(ctx context.Context, identityID string, role user.Role) (Session, error) {
	if !role.Valid() {
		return Session{}, fmt.Errorf("create session: unknown role %q", role)
	}

	token, err := randx.SessionToken()
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	now := a.now()
	s := Session{
		Token:      token,
		IdentityID: identityID,
		Role:       role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(a.Lifetime(role)),
	}

	_, err = a.db.ExecContext(ctx, a.db.Rebind(insertSessionQuery),
		s.Token, s.IdentityID, string(s.Role), s.CreatedAt.Unix(), s.ExpiresAt.Unix())
	if err != nil {
		return Session{}, fmt.Errorf("%w: insert session: %v", ErrUnavailable, err)
	}

	a.logger.Info().
		Str("identity_id", identityID).
		Str("role", string(role)).
		Time("expires_at", s.ExpiresAt).
		Msg("Session created")

	return s, nil
}

// Revoke deletes the session for token. Revoking an unknown token is not an error.
func (a *Authority) Revoke(ctx context.Context, token string) error {
	if _, err := a.db.ExecContext(ctx, a.db.Rebind(deleteSessionQuery), token); err != nil {
		return fmt.Errorf("%w: revoke session: %v", ErrUnavailable, err)
	}
	return nil
}

// Reap deletes every session that has expired and returns how many rows were removed.
func (a *Authority) Reap(ctx context.Context) (int64, error) {
	return a.reap(ctx, a.now())
}

func (a *Authority) reap(ctx context.Context, now time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, a.db.Rebind(deleteExpiredQuery), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: reap sessions: %v", ErrUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: reap sessions: %v", ErrUnavailable, err)
	}

	metrics.AddSessionsReaped(n)
	return n, nil
}

// Run calls Reap every interval until ctx is cancelled.
func (a *Authority) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", interval).Msg("Session reaper started.")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Session reaper stopped.")
			return

		case <-ticker.C:
			n, err := a.Reap(ctx)
			if err != nil {
				a.logger.Error().Err(err).Msg("Session reap failed")
				continue
			}
			if n > 0 {
				a.logger.Debug().Int64("reaped", n).Msg("Expired sessions removed.")
			}
		}
	}
}
