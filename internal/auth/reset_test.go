package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tripletsrewards/server/internal/model"
)

const linkPrefix = "https://rewards.example.com/reset/"

func tokenIn(t *testing.T, body string) string {
	t.Helper()
	i := strings.Index(body, linkPrefix)
	require.GreaterOrEqual(t, i, 0, "no reset link in %q", body)
	rest := body[i+len(linkPrefix):]
	if j := strings.IndexAny(rest, " \n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func TestReset_AliceUnlocksAndTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice", "old-password", model.RoleDriver)
	for i := 0; i < 3; i++ {
		_, _ = env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	}
	require.True(t, env.reload(t, alice).Locked)

	var body string
	env.expectMail("alice@example.com", &body)
	require.NoError(t, env.svc.RequestReset(ctx, "alice", ""))
	token := tokenIn(t, body)

	stored := env.reload(t, alice)
	assert.NotEqual(t, token, stored.ResetTokenHash, "only the hash is stored")
	assert.Equal(t, hashResetToken(token), stored.ResetTokenHash)

	env.advance(10 * time.Minute)
	require.NoError(t, env.svc.CompleteReset(ctx, token, "n3w-password", "n3w-password"))

	got := env.reload(t, alice)
	assert.Zero(t, got.FailedAttempts)
	assert.False(t, got.Locked)
	assert.Empty(t, got.ResetTokenHash)

	tr, err := env.svc.SubmitCredentials(ctx, "alice", "n3w-password", "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, tr.State)

	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, "another-pass", "another-pass"), ErrNotFound)
}

func TestReset_ExpiredTokenIsCleared(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice", "old-password", model.RoleDriver)

	var body string
	env.expectMail("alice@example.com", &body)
	require.NoError(t, env.svc.RequestReset(ctx, "alice", ""))
	token := tokenIn(t, body)

	env.advance(31 * time.Minute)
	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, "n3w-password", "n3w-password"), ErrExpired)
	assert.Empty(t, env.reload(t, alice).ResetTokenHash)
	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, "n3w-password", "n3w-password"), ErrNotFound)
}

func TestReset_PasswordPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice", "old-password", model.RoleDriver)

	var body string
	env.expectMail("alice@example.com", &body)
	require.NoError(t, env.svc.RequestReset(ctx, "alice", ""))
	token := tokenIn(t, body)

	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, "short", "short"), ErrPasswordPolicy)
	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, "long-enough", "long-enougH"), ErrPasswordPolicy)
	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, "", ""), ErrPasswordPolicy)
	tooLong := strings.Repeat("a", 80)
	assert.ErrorIs(t, env.svc.CompleteReset(ctx, token, tooLong, tooLong), ErrPasswordPolicy)
	assert.NotEmpty(t, env.reload(t, alice).ResetTokenHash, "rejected passwords keep the token")
}

func TestRequestReset_SameAnswerForUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.RequestReset(ctx, "nobody", ""))
	env.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	events := env.store.Events()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Details, "outcome=unknown_user")
}

func TestRequestReset_DeliveryFailureIsHidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "alice", "old-password", model.RoleDriver)
	env.notifier.On("Send", mock.Anything, "alice@example.com", mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Once()

	assert.NoError(t, env.svc.RequestReset(ctx, "alice", ""))
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	assert.ErrorIs(t, env.svc.ChangePassword(ctx, acct, "wrong", "new-password", "new-password"), ErrInvalidCredential)
	assert.ErrorIs(t, env.svc.ChangePassword(ctx, acct, "driverpass", "tiny", "tiny"), ErrPasswordPolicy)
	tooLong := strings.Repeat("a", 80)
	assert.ErrorIs(t, env.svc.ChangePassword(ctx, acct, "driverpass", tooLong, tooLong), ErrPasswordPolicy)
	require.NoError(t, env.svc.ChangePassword(ctx, acct, "driverpass", "new-password", "new-password"))

	_, err := env.svc.SubmitCredentials(ctx, "dana", "new-password", "")
	assert.NoError(t, err)
}
