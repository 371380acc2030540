package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo"
)

// ResetRequestedMessage is shown for every reset request, whatever happened
const ResetRequestedMessage = "If that account exists, a password reset link has been sent to its email address."

// generateResetToken returns a random Base64URL token (32 bytes) and its SHA256 hash as hex
func generateResetToken() (token string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hashResetToken(token), nil
}

// hashResetToken returns SHA256 hex of the token
func hashResetToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// RequestReset emails a single-use reset link when username has an email address.
// Callers show ResetRequestedMessage no matter the result; only infrastructure failures
// before delivery are returned.
func (s *Service) RequestReset(ctx context.Context, username, clientIP string) error {
	acct, err := s.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.audit.Record(ctx, audit.KindResetRequest, audit.F("outcome", "unknown_user"), audit.F("username", username), audit.F("ip", clientIP))
			return nil
		}
		return fmt.Errorf("load account: %w", err)
	}
	if acct.Email == "" {
		s.audit.Record(ctx, audit.KindResetRequest, audit.F("outcome", "no_email"), audit.F("username", acct.Username), audit.F("ip", clientIP))
		return nil
	}

	token, hashHex, err := generateResetToken()
	if err != nil {
		return err
	}
	if err := s.accounts.SetResetToken(ctx, acct.ID, hashHex, s.now()); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	link := strings.TrimRight(s.opts.PublicBaseURL, "/") + "/reset/" + token
	body := fmt.Sprintf("Hello %s,\n\nUse this link to reset your %s password:\n%s\n\nThe link expires in %d minutes. If you did not ask for a reset, ignore this email.",
		acct.Username, s.opts.AppName, link, int(s.opts.ResetTokenTTL.Minutes()))
	if err := s.notifier.Send(ctx, acct.Email, "Password reset", body); err != nil {
		s.logger.Warn().Err(err).Str("username", acct.Username).Msg("reset link delivery failed")
		s.audit.Record(ctx, audit.KindResetRequest, audit.F("outcome", "delivery_failed"), audit.F("username", acct.Username), audit.F("ip", clientIP))
		return nil
	}
	s.audit.Record(ctx, audit.KindResetRequest, audit.F("outcome", "sent"), audit.F("username", acct.Username), audit.F("ip", clientIP))
	return nil
}

// CompleteReset sets a new password with a reset token. The token is cleared on success
// and on expiry. A completed reset also clears any lock and the failed-attempt counter.
func (s *Service) CompleteReset(ctx context.Context, token, password, confirm string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNotFound
	}
	acct, err := s.accounts.GetByResetTokenHash(ctx, hashResetToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}

	if acct.ResetTokenIssuedAt == nil || s.now().Sub(*acct.ResetTokenIssuedAt) > s.opts.ResetTokenTTL {
		if err := s.accounts.ClearResetToken(ctx, acct.ID); err != nil {
			return fmt.Errorf("clear reset token: %w", err)
		}
		s.audit.Record(ctx, audit.KindResetExpired, audit.F("username", acct.Username))
		return ErrExpired
	}

	if err := ValidateNewPassword(password, confirm); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.accounts.CompletePasswordReset(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}
	s.audit.Record(ctx, audit.KindResetSuccess, audit.F("username", acct.Username))
	return nil
}

// ChangePassword replaces the password of a signed-in account after checking the current one
func (s *Service) ChangePassword(ctx context.Context, acct model.Account, current, password, confirm string) error {
	if !s.hasher.Verify(acct.PasswordHash, current) {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidCredential)
	}
	if err := ValidateNewPassword(password, confirm); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.audit.Record(ctx, audit.KindPasswordChanged, audit.F("username", acct.Username))
	return nil
}
