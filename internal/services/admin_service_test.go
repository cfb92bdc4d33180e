package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ks-hl/snailpoints/internal/models"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
)

func TestAdminService_SetPassword_Success(t *testing.T) {
	w := newWorld(t)
	w.accounts.add(t, "alice", "alice@example.com", strongPassword, false)

	require.NoError(t, w.admin.SetPassword(context.Background(), "uid-root", "ALICE", newStrongPassword))

	stored := w.accounts.get("uid-alice")
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, newStrongPassword))
}

func TestAdminService_SetPassword_LiftsThrottling(t *testing.T) {
	w := newWorld(t)
	w.accounts.add(t, "alice", "alice@example.com", strongPassword, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = w.auth.Login(ctx, "alice", "Wrong-Password-1", "203.0.113.10")
	}
	_, err := w.auth.Login(ctx, "alice", strongPassword, "203.0.113.10")
	require.ErrorIs(t, err, models.ErrRateLimitExceeded)

	require.NoError(t, w.admin.SetPassword(ctx, "uid-root", "alice", newStrongPassword))

	resp, err := w.auth.Login(ctx, "alice", newStrongPassword, "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, "uid-alice", resp.Account.ID)
}

func TestAdminService_SetPassword_RefusesAdmins(t *testing.T) {
	w := newWorld(t)
	w.accounts.add(t, "root", "root@example.com", strongPassword, true)

	err := w.admin.SetPassword(context.Background(), "uid-other", "root", newStrongPassword)

	assert.ErrorIs(t, err, models.ErrForbidden)
	stored := w.accounts.get("uid-root")
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, strongPassword))
}

func TestAdminService_SetPassword_UnknownUser(t *testing.T) {
	w := newWorld(t)

	err := w.admin.SetPassword(context.Background(), "uid-root", "ghost", newStrongPassword)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminService_SetPassword_WeakPassword(t *testing.T) {
	w := newWorld(t)
	w.accounts.add(t, "alice", "alice@example.com", strongPassword, false)

	err := w.admin.SetPassword(context.Background(), "uid-root", "alice", "weak")

	var pwErr *pkgauth.PasswordValidationError
	assert.ErrorAs(t, err, &pwErr)
}

func TestAdminService_UnbanAddress_ClearsBanAndAttemptCount(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	for i := 0; i < 31; i++ {
		require.NoError(t, w.guard.RecordAbuse(ctx, "203.0.113.66"))
	}
	require.Equal(t, []string{"203.0.113.66"}, w.bans.Banned())

	require.NoError(t, w.admin.UnbanAddress(ctx, "uid-root", "::ffff:203.0.113.66"))
	assert.Empty(t, w.bans.Banned())

	require.NoError(t, w.guard.RecordAbuse(ctx, "203.0.113.66"))
	assert.Empty(t, w.bans.Banned(), "the attempt count starts over after an unban")
}

func TestAdminService_UnbanAddress_Errors(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	assert.ErrorIs(t, w.admin.UnbanAddress(ctx, "uid-root", "not-an-ip"), models.ErrBadRequest)

	w.bans.UnbanFunc = func(ctx context.Context, sourceAddress string) error {
		return errors.New("connection refused")
	}
	assert.ErrorIs(t, w.admin.UnbanAddress(ctx, "uid-root", "203.0.113.66"), models.ErrServiceBusy)
}
