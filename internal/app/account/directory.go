/*
Package account is the narrow view of the account store that the relay layer needs.

The relays only ever ask one question of it, the display name of an identity. Account
creation and approval are included for fixtures and administrative tooling; password
handling and the invite workflow live elsewhere.
*/
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"nook/internal/app/db"
	"nook/internal/app/user"
	"nook/internal/pkg/randx"
)

var (
	// ErrNotFound means no account has the requested id.
	ErrNotFound = errors.New("account: not found")

	// ErrDuplicate means an account with the same id already exists.
	ErrDuplicate = errors.New("account: already exists")

	// ErrUnavailable means the account store could not be queried.
	ErrUnavailable = errors.New("account: store unavailable")
)

// Account is a row of the users table.
type Account struct {
	ID        string
	Name      string
	Role      user.Role
	Approved  bool
	CreatedAt int64
}

// Identity returns the identity an approved session for this account resolves to.
func (a Account) Identity() user.Identity {
	return user.Identity{ID: a.ID, DisplayName: a.Name, Role: a.Role}
}

// Directory reads and writes accounts.
type Directory struct {
	db *sqlx.DB
}

// NewDirectory constructs a Directory over the users table of db.
func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

// DisplayName returns the name shown next to messages from id.
func (d *Directory) DisplayName(ctx context.Context, id string) (string, error) {
	var name string

	err := d.db.GetContext(ctx, &name, d.db.Rebind(`SELECT name FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return name, nil
}

// Get loads the account with the given id.
func (d *Directory) Get(ctx context.Context, id string) (Account, error) {
	var row struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		Role      string `db:"role"`
		Approved  int    `db:"approved"`
		CreatedAt int64  `db:"created_at"`
	}

	err := d.db.GetContext(ctx, &row,
		d.db.Rebind(`SELECT id, name, role, approved, created_at FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	role, err := user.ParseRole(row.Role)
	if err != nil {
		return Account{}, err
	}

	return Account{
		ID:        row.ID,
		Name:      row.Name,
		Role:      role,
		Approved:  row.Approved == 1,
		CreatedAt: row.CreatedAt,
	}, nil
}

// Create inserts a new account. An empty ID is filled with a generated one.
func (d *Directory) Create(ctx context.Context, a Account) (Account, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return Account{}, fmt.Errorf("create account: name is required")
	}
	if !a.Role.Valid() {
		return Account{}, fmt.Errorf("create account: unknown role %q", a.Role)
	}
	if a.ID == "" {
		a.ID = randx.AccountID()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}

	_, err := d.db.ExecContext(ctx,
		d.db.Rebind(`INSERT INTO users (id, name, role, approved, created_at) VALUES (?, ?, ?, ?, ?)`),
		a.ID, a.Name, string(a.Role), boolToInt(a.Approved), a.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return a, nil
}

// SetApproved approves or suspends an account. Suspension invalidates its sessions
// immediately because session lookups require an approved account.
func (d *Directory) SetApproved(ctx context.Context, id string, approved bool) error {
	res, err := d.db.ExecContext(ctx,
		d.db.Rebind(`UPDATE users SET approved = ? WHERE id = ?`), boolToInt(approved), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
