package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tripletsrewards/server/internal/model"
)

func TestBeginTOTPEnrollment_ReusesUnconfirmedSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "bob", "sponsorpass", model.RoleSponsor)

	first, err := env.svc.BeginTOTPEnrollment(ctx, acct)
	require.NoError(t, err)
	assert.Contains(t, first.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, first.ProvisioningURI, "secret="+first.Secret)
	assert.NotEmpty(t, first.QRCodePNG)

	acct = env.reload(t, acct)
	assert.Equal(t, first.Secret, acct.TOTPSecret)
	assert.False(t, acct.TOTPEnabled, "not active until confirmed")

	second, err := env.svc.BeginTOTPEnrollment(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, first.Secret, second.Secret)
}

func TestConfirmTOTPEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "bob", "sponsorpass", model.RoleSponsor)

	err := env.svc.ConfirmTOTPEnrollment(ctx, acct, "123456")
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	enrollment, err := env.svc.BeginTOTPEnrollment(ctx, acct)
	require.NoError(t, err)
	acct = env.reload(t, acct)

	err = env.svc.ConfirmTOTPEnrollment(ctx, acct, wrongTOTP(t, enrollment.Secret, env.now))
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.False(t, env.reload(t, acct).TOTPEnabled)

	require.NoError(t, env.svc.ConfirmTOTPEnrollment(ctx, acct, totpCode(t, enrollment.Secret, env.now)))
	assert.True(t, env.reload(t, acct).TOTPEnabled)

	_, err = env.svc.BeginTOTPEnrollment(ctx, env.reload(t, acct))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestDisableTOTP_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "bob", "sponsorpass", model.RoleSponsor)
	require.NoError(t, env.store.Accounts.SetTOTPSecret(ctx, acct.ID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, env.store.Accounts.SetTOTPEnabled(ctx, acct.ID, true))

	require.NoError(t, env.svc.DisableTOTP(ctx, env.reload(t, acct)))
	require.NoError(t, env.svc.DisableTOTP(ctx, env.reload(t, acct)))

	got := env.reload(t, acct)
	assert.Empty(t, got.TOTPSecret)
	assert.False(t, got.TOTPEnabled)

	tr, err := env.svc.SubmitCredentials(ctx, "bob", "sponsorpass", "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, tr.State)

	disabled := 0
	for _, ev := range env.store.Events() {
		if ev.Kind == "TOTP_DISABLED" {
			disabled++
		}
	}
	assert.Equal(t, 1, disabled)
}

func TestEnableEmail2FA_RequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	assert.ErrorIs(t, env.svc.EnableEmail2FA(ctx, acct), ErrPreconditionFailed)
	assert.False(t, env.reload(t, acct).Email2FAEnabled)

	require.NoError(t, env.store.Accounts.MarkEmailVerified(ctx, acct.ID))
	require.NoError(t, env.svc.EnableEmail2FA(ctx, env.reload(t, acct)))
	assert.True(t, env.reload(t, acct).Email2FAEnabled)

	require.NoError(t, env.svc.DisableEmail2FA(ctx, acct))
	assert.False(t, env.reload(t, acct).Email2FAEnabled)
}

func TestEmail2FASetup_VerifiesAndEnables(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	var body string
	env.expectMail("dana@example.com", &body)
	require.NoError(t, env.svc.BeginEmail2FASetup(ctx, acct))

	code := codeIn(t, body)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, env.svc.ConfirmEmail2FASetup(ctx, acct, wrong), ErrInvalidCredential)
	require.NoError(t, env.svc.ConfirmEmail2FASetup(ctx, acct, code))

	got := env.reload(t, acct)
	assert.True(t, got.EmailVerified)
	assert.True(t, got.Email2FAEnabled)
}

func TestBeginEmail2FASetup_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, "dana", "driverpass", model.RoleDriver)

	noEmail := acct
	noEmail.Email = ""
	assert.ErrorIs(t, env.svc.BeginEmail2FASetup(ctx, noEmail), ErrPreconditionFailed)

	env.notifier.On("Send", mock.Anything, "dana@example.com", mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Once()
	assert.ErrorIs(t, env.svc.BeginEmail2FASetup(ctx, acct), ErrDeliveryFailed)
}
