package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tripletsrewards/server/internal/model"
)

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// wrongTOTP returns a code outside the accepted window at at
func wrongTOTP(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[totpCode(t, secret, at.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code found")
	return ""
}

func TestSubmitCredentials_NoFactorAuthenticates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	tr, err := env.svc.SubmitCredentials(ctx, "dana", "driverpass", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, tr.State)
	assert.Equal(t, "/driver/dashboard", tr.Landing)
	require.NotEmpty(t, tr.Token)

	acct, err := env.svc.Authenticate(ctx, tr.Token)
	require.NoError(t, err)
	assert.Equal(t, "dana", acct.Username)
	env.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCredentials_UsernameIsCaseSensitive(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	tr, err := env.svc.SubmitCredentials(context.Background(), "Dana", "driverpass", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, StateRejected, tr.State)
}

func TestSubmitCredentials_LockoutAfterThreeFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "alice", "correct-pass", model.RoleDriver)

	tr, err := env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, 2, tr.AttemptsRemaining)
	assert.Equal(t, "Invalid username or password. 2 attempts remaining.", tr.Message)

	tr, err = env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, 1, tr.AttemptsRemaining)

	tr, err = env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, StateLockedOut, tr.State)
	assert.Equal(t, model.LockSelf, tr.LockReason)

	got := env.reload(t, acct)
	assert.True(t, got.Locked)
	assert.Equal(t, 3, got.FailedAttempts)

	tr, err = env.svc.SubmitCredentials(ctx, "alice", "correct-pass", "")
	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, model.LockSelf, locked.Reason)
	assert.Equal(t, StateLockedOut, tr.State)
	assert.Empty(t, tr.Token)
}

func TestSubmitCredentials_UnknownUserMatchesFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "alice", "correct-pass", model.RoleDriver)

	known, err := env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	require.ErrorIs(t, err, ErrInvalidCredential)
	unknown, err := env.svc.SubmitCredentials(ctx, "mallory", "wrong", "")
	require.ErrorIs(t, err, ErrInvalidCredential)

	assert.Equal(t, known.Message, unknown.Message)
	assert.Equal(t, known.AttemptsRemaining, unknown.AttemptsRemaining)
	assert.Equal(t, known.State, unknown.State)

	events := env.store.Events()
	require.Len(t, events, 2)
	assert.Contains(t, events[1].Details, "outcome=unknown_user")
	assert.Contains(t, events[0].Details, "outcome=bad_password")
}

func TestSubmitCredentials_SuccessClearsFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "alice", "correct-pass", model.RoleDriver)

	_, _ = env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	_, _ = env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	_, err := env.svc.SubmitCredentials(ctx, "alice", "correct-pass", "")
	require.NoError(t, err)
	assert.Zero(t, env.reload(t, acct).FailedAttempts)

	tr, err := env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, 2, tr.AttemptsRemaining)
}

func TestSubmitCredentials_OneAuditEventPerAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	_, _ = env.svc.SubmitCredentials(ctx, "dana", "driverpass", "10.1.1.1")
	_, _ = env.svc.SubmitCredentials(ctx, "dana", "nope", "10.1.1.1")
	_, _ = env.svc.SubmitCredentials(ctx, "ghost", "nope", "10.1.1.1")

	events := env.store.Events()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, "LOGIN", ev.Kind)
		assert.Contains(t, ev.Details, "ip=10.1.1.1")
	}
}

func TestLogin_TOTPForSponsor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.createAccount(t, "bob", "sponsorpass", model.RoleSponsor)

	enrollment, err := env.svc.BeginTOTPEnrollment(ctx, bob)
	require.NoError(t, err)
	bob = env.reload(t, bob)
	require.NoError(t, env.svc.ConfirmTOTPEnrollment(ctx, bob, totpCode(t, enrollment.Secret, env.now)))

	tr, err := env.svc.SubmitCredentials(ctx, "bob", "sponsorpass", "")
	require.NoError(t, err)
	assert.Equal(t, StatePending, tr.State)
	assert.Equal(t, MethodTOTP, tr.Method)
	pending := tr.Token

	_, err = env.svc.Authenticate(ctx, pending)
	assert.ErrorIs(t, err, ErrInvalidCredential, "pending marker is not a session")

	tr, err = env.svc.VerifySecondFactor(ctx, pending, wrongTOTP(t, enrollment.Secret, env.now), "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, StatePending, tr.State)

	tr, err = env.svc.VerifySecondFactor(ctx, pending, totpCode(t, enrollment.Secret, env.now), "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, tr.State)
	assert.Equal(t, "/sponsor/dashboard", tr.Landing)

	_, err = env.svc.VerifySecondFactor(ctx, pending, totpCode(t, enrollment.Secret, env.now), "")
	assert.ErrorIs(t, err, ErrInvalidCredential, "marker is single use")
}

func TestLogin_EmailCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "carol", "adminpass", model.RoleAdministrator)
	require.NoError(t, env.store.Accounts.MarkEmailVerified(ctx, acct.ID))
	require.NoError(t, env.svc.EnableEmail2FA(ctx, env.reload(t, acct)))

	var body string
	env.expectMail("carol@example.com", &body)

	tr, err := env.svc.SubmitCredentials(ctx, "carol", "adminpass", "")
	require.NoError(t, err)
	assert.Equal(t, StatePending, tr.State)
	assert.Equal(t, MethodEmail, tr.Method)
	code := codeIn(t, body)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = env.svc.VerifySecondFactor(ctx, tr.Token, wrong, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	done, err := env.svc.VerifySecondFactor(ctx, tr.Token, code, "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, done.State)
	assert.Equal(t, "/admin/dashboard", done.Landing)
	env.notifier.AssertExpectations(t)
}

func TestLogin_EmailDeliveryFailureStaysPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "carol", "adminpass", model.RoleAdministrator)
	require.NoError(t, env.store.Accounts.MarkEmailVerified(ctx, acct.ID))
	require.NoError(t, env.store.Accounts.SetEmail2FA(ctx, acct.ID, true))

	env.notifier.On("Send", mock.Anything, "carol@example.com", mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Twice()

	tr, err := env.svc.SubmitCredentials(ctx, "carol", "adminpass", "")
	require.NoError(t, err)
	assert.Equal(t, StatePending, tr.State)
	assert.True(t, strings.Contains(tr.Message, "could not send"))

	err = env.svc.ResendLoginCode(ctx, tr.Token)
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	var body string
	env.expectMail("carol@example.com", &body)
	require.NoError(t, env.svc.ResendLoginCode(ctx, tr.Token))

	done, err := env.svc.VerifySecondFactor(ctx, tr.Token, codeIn(t, body), "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, done.State)
}

func TestResendLoginCode_InvalidatesEarlierCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "carol", "adminpass", model.RoleAdministrator)
	require.NoError(t, env.store.Accounts.SetEmail2FA(ctx, acct.ID, true))

	var first, second string
	env.expectMail("carol@example.com", &first)
	tr, err := env.svc.SubmitCredentials(ctx, "carol", "adminpass", "")
	require.NoError(t, err)

	env.expectMail("carol@example.com", &second)
	require.NoError(t, env.svc.ResendLoginCode(ctx, tr.Token))

	if codeIn(t, first) != codeIn(t, second) {
		_, err = env.svc.VerifySecondFactor(ctx, tr.Token, codeIn(t, first), "")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	}
	_, err = env.svc.VerifySecondFactor(ctx, tr.Token, codeIn(t, second), "")
	require.NoError(t, err)
}

func TestResendLoginCode_RequiresEmailMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "bob", "sponsorpass", model.RoleSponsor)
	require.NoError(t, env.store.Accounts.SetTOTPSecret(ctx, acct.ID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, env.store.Accounts.SetTOTPEnabled(ctx, acct.ID, true))

	tr, err := env.svc.SubmitCredentials(ctx, "bob", "sponsorpass", "")
	require.NoError(t, err)
	assert.ErrorIs(t, env.svc.ResendLoginCode(ctx, tr.Token), ErrPreconditionFailed)
}

func TestAdminLock_LapsesAtExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createAccount(t, "root", "adminpass", model.RoleAdministrator)
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	until := env.now.Add(time.Hour)
	require.NoError(t, env.svc.LockAccount(ctx, admin, acct.ID, until))

	tr, err := env.svc.SubmitCredentials(ctx, "dana", "driverpass", "")
	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, model.LockAdmin, locked.Reason)
	require.NotNil(t, tr.LockedUntil)
	assert.True(t, until.Equal(*tr.LockedUntil))
	assert.Contains(t, tr.Message, "locked by an administrator until")

	env.advance(2 * time.Hour)
	tr, err = env.svc.SubmitCredentials(ctx, "dana", "driverpass", "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, tr.State)
	assert.False(t, env.reload(t, acct).Locked)
}

func TestLockAccount_RejectsPastExpiry(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createAccount(t, "root", "adminpass", model.RoleAdministrator)
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	err := env.svc.LockAccount(context.Background(), admin, acct.ID, env.now.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestUnlockAccount_ClearsSelfLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createAccount(t, "root", "adminpass", model.RoleAdministrator)
	acct := env.createAccount(t, "alice", "correct-pass", model.RoleDriver)
	for i := 0; i < 3; i++ {
		_, _ = env.svc.SubmitCredentials(ctx, "alice", "wrong", "")
	}

	require.NoError(t, env.svc.UnlockAccount(ctx, admin, acct.ID))
	got := env.reload(t, acct)
	assert.False(t, got.Locked)
	assert.Zero(t, got.FailedAttempts)

	_, err := env.svc.SubmitCredentials(ctx, "alice", "correct-pass", "")
	require.NoError(t, err)

	assert.ErrorIs(t, env.svc.UnlockAccount(ctx, admin, uuid.New()), ErrNotFound)
}

func TestLogout_RevokesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	tr, err := env.svc.SubmitCredentials(ctx, "dana", "driverpass", "")
	require.NoError(t, err)
	require.NoError(t, env.svc.Logout(ctx, tr.Token))

	_, err = env.svc.Authenticate(ctx, tr.Token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticate_RejectsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	tr, err := env.svc.SubmitCredentials(ctx, "dana", "driverpass", "")
	require.NoError(t, err)

	env.advance(2 * time.Hour)
	_, err = env.svc.Authenticate(ctx, tr.Token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthenticate_LockedAccountLosesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createAccount(t, "root", "adminpass", model.RoleAdministrator)
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	tr, err := env.svc.SubmitCredentials(ctx, "dana", "driverpass", "")
	require.NoError(t, err)
	require.NoError(t, env.svc.LockAccount(ctx, admin, acct.ID, env.now.Add(time.Hour)))

	_, err = env.svc.Authenticate(ctx, tr.Token)
	assert.ErrorIs(t, err, ErrLocked)
}
