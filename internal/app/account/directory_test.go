package account_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nook/internal/app/account"
	"nook/internal/app/db/dbtest"
	"nook/internal/app/user"
)

func TestCreateAndDisplayName(t *testing.T) {
	dir := account.NewDirectory(dbtest.Open(t).DB)
	ctx := context.Background()

	acc, err := dir.Create(ctx, account.Account{Name: "  Grandma  ", Role: user.RoleMember, Approved: true})
	require.NoError(t, err)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, "Grandma", acc.Name)
	assert.NotZero(t, acc.CreatedAt)

	name, err := dir.DisplayName(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grandma", name)

	got, err := dir.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc, got)
	assert.Equal(t, user.Identity{ID: acc.ID, DisplayName: "Grandma", Role: user.RoleMember}, got.Identity())
}

func TestDisplayNameNotFound(t *testing.T) {
	dir := account.NewDirectory(dbtest.Open(t).DB)

	_, err := dir.DisplayName(context.Background(), "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = dir.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestCreateDuplicateID(t *testing.T) {
	dir := account.NewDirectory(dbtest.Open(t).DB)
	ctx := context.Background()

	_, err := dir.Create(ctx, account.Account{ID: "fixed", Name: "Ann", Role: user.RoleAdmin})
	require.NoError(t, err)

	_, err = dir.Create(ctx, account.Account{ID: "fixed", Name: "Bob", Role: user.RoleMember})
	assert.ErrorIs(t, err, account.ErrDuplicate)
}

func TestCreateValidatesInput(t *testing.T) {
	dir := account.NewDirectory(dbtest.Open(t).DB)
	ctx := context.Background()

	_, err := dir.Create(ctx, account.Account{Name: " ", Role: user.RoleMember})
	assert.Error(t, err)

	_, err = dir.Create(ctx, account.Account{Name: "Ann", Role: user.Role("guest")})
	assert.Error(t, err)
}

func TestSetApproved(t *testing.T) {
	dir := account.NewDirectory(dbtest.Open(t).DB)
	ctx := context.Background()

	acc, err := dir.Create(ctx, account.Account{Name: "Ann", Role: user.RoleMember})
	require.NoError(t, err)
	assert.False(t, acc.Approved)

	require.NoError(t, dir.SetApproved(ctx, acc.ID, true))

	got, err := dir.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Approved)

	assert.ErrorIs(t, dir.SetApproved(ctx, "missing", true), account.ErrNotFound)
}

func TestDisplayNameUnavailable(t *testing.T) {
	store := dbtest.Open(t)
	dir := account.NewDirectory(store.DB)
	require.NoError(t, store.Close())

	_, err := dir.DisplayName(context.Background(), "anyone")
	assert.ErrorIs(t, err, account.ErrUnavailable)
}
