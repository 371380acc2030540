package auth

import (
	"context"
	"fmt"

	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/model"
)

// TOTPEnrollment is what an authenticator app needs to register the account
type TOTPEnrollment struct {
	Secret          string
	ProvisioningURI string
	QRCodePNG       []byte
}

// BeginTOTPEnrollment generates a secret, or reuses an unconfirmed one, and returns the
// provisioning data. TOTP stays off until ConfirmTOTPEnrollment.
func (s *Service) BeginTOTPEnrollment(ctx context.Context, acct model.Account) (TOTPEnrollment, error) {
	label := acct.Email
	if label == "" {
		label = acct.Username
	}

	if acct.TOTPEnabled {
		return TOTPEnrollment{}, fmt.Errorf("%w: authenticator app already enabled", ErrPreconditionFailed)
	}

	var (
		secret string
		uri    string
		png    []byte
	)
	if acct.TOTPSecret != "" {
		key, err := totpKeyFor(s.opts.TOTPIssuer, label, acct.TOTPSecret)
		if err != nil {
			return TOTPEnrollment{}, err
		}
		if png, err = qrPNG(key); err != nil {
			return TOTPEnrollment{}, err
		}
		secret, uri = key.Secret(), key.URL()
	} else {
		key, err := generateTOTPKey(s.opts.TOTPIssuer, label)
		if err != nil {
			return TOTPEnrollment{}, err
		}
		if err := s.accounts.SetTOTPSecret(ctx, acct.ID, key.Secret()); err != nil {
			return TOTPEnrollment{}, fmt.Errorf("store totp secret: %w", err)
		}
		if png, err = qrPNG(key); err != nil {
			return TOTPEnrollment{}, err
		}
		secret, uri = key.Secret(), key.URL()
	}

	return TOTPEnrollment{Secret: secret, ProvisioningURI: uri, QRCodePNG: png}, nil
}

// ConfirmTOTPEnrollment turns TOTP on once the app produces a valid code
func (s *Service) ConfirmTOTPEnrollment(ctx context.Context, acct model.Account, code string) error {
	if acct.TOTPSecret == "" {
		return fmt.Errorf("%w: start authenticator setup first", ErrPreconditionFailed)
	}
	if !validateTOTP(code, acct.TOTPSecret, s.now()) {
		return fmt.Errorf("%w: invalid authentication code", ErrInvalidCredential)
	}
	if err := s.accounts.SetTOTPEnabled(ctx, acct.ID, true); err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}
	s.audit.Record(ctx, audit.KindTOTPEnabled, audit.F("username", acct.Username))
	return nil
}

// DisableTOTP clears the secret and the enabled flag
func (s *Service) DisableTOTP(ctx context.Context, acct model.Account) error {
	if err := s.accounts.ClearTOTP(ctx, acct.ID); err != nil {
		return fmt.Errorf("disable totp: %w", err)
	}
	if acct.TOTPSecret != "" || acct.TOTPEnabled {
		s.audit.Record(ctx, audit.KindTOTPDisabled, audit.F("username", acct.Username))
	}
	return nil
}

// BeginEmail2FASetup sends a setup code to the account's email
func (s *Service) BeginEmail2FASetup(ctx context.Context, acct model.Account) error {
	if acct.Email == "" {
		return fmt.Errorf("%w: add an email address first", ErrPreconditionFailed)
	}
	code, err := s.codes.Issue(ctx, acct.ID, model.PurposeSetup)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Your %s verification code is: %s\nThis code expires in %d minutes.", s.opts.AppName, code, int(s.codes.ttl.Minutes()))
	if err := s.notifier.Send(ctx, acct.Email, "Verify your email for 2FA", body); err != nil {
		s.logger.Warn().Err(err).Str("username", acct.Username).Msg("setup code delivery failed")
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// ConfirmEmail2FASetup verifies the setup code, marks the email verified and enables email 2FA
func (s *Service) ConfirmEmail2FASetup(ctx context.Context, acct model.Account, code string) error {
	ok, err := s.codes.Verify(ctx, acct.ID, model.PurposeSetup, code)
	if !ok {
		if isCodeOutcome(err) {
			return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return err
	}
	if err := s.accounts.MarkEmailVerified(ctx, acct.ID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if err := s.accounts.SetEmail2FA(ctx, acct.ID, true); err != nil {
		return fmt.Errorf("enable email 2fa: %w", err)
	}
	s.audit.Record(ctx, audit.KindEmail2FAEnabled, audit.F("username", acct.Username))
	return nil
}

// EnableEmail2FA turns email 2FA on for an account whose email is already verified
func (s *Service) EnableEmail2FA(ctx context.Context, acct model.Account) error {
	if !acct.EmailVerified {
		return fmt.Errorf("%w: verify your email before enabling email 2FA", ErrPreconditionFailed)
	}
	if err := s.accounts.SetEmail2FA(ctx, acct.ID, true); err != nil {
		return fmt.Errorf("enable email 2fa: %w", err)
	}
	s.audit.Record(ctx, audit.KindEmail2FAEnabled, audit.F("username", acct.Username))
	return nil
}

// DisableEmail2FA turns email 2FA off
func (s *Service) DisableEmail2FA(ctx context.Context, acct model.Account) error {
	if err := s.accounts.SetEmail2FA(ctx, acct.ID, false); err != nil {
		return fmt.Errorf("disable email 2fa: %w", err)
	}
	s.audit.Record(ctx, audit.KindEmail2FADisabled, audit.F("username", acct.Username))
	return nil
}
