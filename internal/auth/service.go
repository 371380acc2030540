package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/notify"
	"github.com/tripletsrewards/server/internal/repo"
)

const (
	defaultLockoutThreshold = 3
	defaultResetTokenTTL    = 30 * time.Minute
)

// State is where a login attempt ended up
type State string

const (
	StateRejected      State = "rejected"
	StateLockedOut     State = "locked_out"
	StatePending       State = "second_factor_pending"
	StateAuthenticated State = "authenticated"
)

// Transition is the outcome of one step of the login state machine
type Transition struct {
	State             State
	Method            Method
	Token             string
	ExpiresAt         time.Time
	Account           *model.Account
	Landing           string
	AttemptsRemaining int
	LockReason        model.LockReason
	LockedUntil       *time.Time
	Message           string
}

// Revoker records revoked token IDs. Revoke reports whether this call revoked the ID.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	LockoutThreshold int
	ResetTokenTTL    time.Duration
	TOTPIssuer       string
	AppName          string
	PublicBaseURL    string
}

// Service orchestrates authentication operations
type Service struct {
	accounts repo.AccountRepo
	codes    *CodeStore
	tokens   *JWTService
	hasher   *PasswordHasher
	revoker  Revoker
	notifier notify.Notifier
	audit    audit.Sink
	logger   *zerolog.Logger
	opts     Options
	now      func() time.Time

	// compared against when the username is unknown
	dummyHash string
}

// NewService creates a new auth service
func NewService(
	accounts repo.AccountRepo,
	codes *CodeStore,
	tokens *JWTService,
	hasher *PasswordHasher,
	revoker Revoker,
	notifier notify.Notifier,
	sink audit.Sink,
	logger *zerolog.Logger,
	opts Options,
) *Service {
	if opts.LockoutThreshold <= 0 {
		opts.LockoutThreshold = defaultLockoutThreshold
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = defaultResetTokenTTL
	}
	if opts.AppName == "" {
		opts.AppName = "Triple T's Rewards"
	}
	if opts.TOTPIssuer == "" {
		opts.TOTPIssuer = opts.AppName
	}
	s := &Service{
		accounts: accounts,
		codes:    codes,
		tokens:   tokens,
		hasher:   hasher,
		revoker:  revoker,
		notifier: notifier,
		audit:    sink,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
	s.dummyHash, _ = hasher.Hash(uuid.NewString())
	return s
}

// SetClock makes the service and its code store and token service read time from now
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.codes = s.codes.WithClock(now)
	s.tokens = s.tokens.WithClock(now)
}

// LockoutThreshold returns the number of failed passwords that locks an account
func (s *Service) LockoutThreshold() int {
	return s.opts.LockoutThreshold
}

// SubmitCredentials checks a username and password. Rejected and LockedOut transitions
// come back with ErrInvalidCredential or a *LockedError; any other error is an
// infrastructure failure.
func (s *Service) SubmitCredentials(ctx context.Context, username, password, clientIP string) (Transition, error) {
	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return Transition{}, fmt.Errorf("load account: %w", err)
		}
		// same cost and same answer as a first wrong password
		s.hasher.Verify(s.dummyHash, password)
		s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "unknown_user"), audit.F("username", username), audit.F("ip", clientIP))
		remaining := s.opts.LockoutThreshold - 1
		return Transition{
			State:             StateRejected,
			AttemptsRemaining: remaining,
			Message:           rejectedMessage(remaining),
		}, ErrInvalidCredential
	}

	now := s.now()
	if acct.IsLocked(now) {
		s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "locked"), audit.F("username", acct.Username), audit.F("reason", acct.LockReason), audit.F("ip", clientIP))
		return lockedTransition(acct), &LockedError{Reason: acct.LockReason, Until: acct.LockedUntil}
	}

	if !s.hasher.Verify(acct.PasswordHash, password) {
		updated, err := s.accounts.RecordFailedAttempt(ctx, acct.ID, s.opts.LockoutThreshold)
		if err != nil {
			return Transition{}, fmt.Errorf("record failed attempt: %w", err)
		}
		if updated.Locked && updated.LockReason == model.LockSelf {
			s.audit.Record(ctx, audit.KindAccountLocked, audit.F("username", acct.Username), audit.F("reason", model.LockSelf), audit.F("attempts", updated.FailedAttempts), audit.F("ip", clientIP))
			return lockedTransition(updated), &LockedError{Reason: model.LockSelf}
		}
		remaining := max(0, s.opts.LockoutThreshold-updated.FailedAttempts)
		s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "bad_password"), audit.F("username", acct.Username), audit.F("attempts", updated.FailedAttempts), audit.F("ip", clientIP))
		return Transition{
			State:             StateRejected,
			AttemptsRemaining: remaining,
			Message:           rejectedMessage(remaining),
		}, ErrInvalidCredential
	}

	switch {
	case acct.Locked:
		// administrator lock that has lapsed
		if err := s.accounts.Unlock(ctx, acct.ID); err != nil {
			return Transition{}, fmt.Errorf("clear expired lock: %w", err)
		}
		acct.Locked, acct.LockReason, acct.LockedUntil, acct.FailedAttempts = false, model.LockNone, nil, 0
	case acct.FailedAttempts > 0:
		if err := s.accounts.ClearFailedAttempts(ctx, acct.ID); err != nil {
			return Transition{}, fmt.Errorf("clear failed attempts: %w", err)
		}
		acct.FailedAttempts = 0
	}

	switch {
	case acct.TOTPEnabled && acct.TOTPSecret != "":
		t, err := s.pending(acct, MethodTOTP)
		if err != nil {
			return Transition{}, err
		}
		t.Message = "Enter the code from your authenticator app."
		s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "second_factor"), audit.F("method", MethodTOTP), audit.F("username", acct.Username), audit.F("ip", clientIP))
		return t, nil

	case acct.Email2FAEnabled:
		t, err := s.pending(acct, MethodEmail)
		if err != nil {
			return Transition{}, err
		}
		t.Message = "A login code was sent to your email."
		if err := s.sendLoginCode(ctx, acct); err != nil {
			// the user can ask for a new code from the pending state
			s.logger.Warn().Err(err).Str("username", acct.Username).Msg("login code delivery failed")
			t.Message = "We could not send your login code. Request a new code to try again."
			s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "second_factor"), audit.F("method", MethodEmail), audit.F("delivery", "failed"), audit.F("username", acct.Username), audit.F("ip", clientIP))
			return t, nil
		}
		s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "second_factor"), audit.F("method", MethodEmail), audit.F("username", acct.Username), audit.F("ip", clientIP))
		return t, nil
	}

	t, err := s.authenticated(acct)
	if err != nil {
		return Transition{}, err
	}
	s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "success"), audit.F("username", acct.Username), audit.F("role", acct.Role), audit.F("ip", clientIP))
	return t, nil
}

// VerifySecondFactor completes a login waiting on a second factor. A wrong code leaves
// the marker usable and returns ErrInvalidCredential.
func (s *Service) VerifySecondFactor(ctx context.Context, pendingToken, code, clientIP string) (Transition, error) {
	claims, acct, err := s.loadPending(ctx, pendingToken)
	if err != nil {
		return Transition{}, err
	}

	switch claims.Method {
	case MethodTOTP:
		if acct.TOTPSecret == "" || !validateTOTP(code, acct.TOTPSecret, s.now()) {
			s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "bad_second_factor"), audit.F("method", MethodTOTP), audit.F("username", acct.Username), audit.F("ip", clientIP))
			return pendingAgain(claims, "Invalid authentication code."), ErrInvalidCredential
		}
	case MethodEmail:
		ok, verr := s.codes.Verify(ctx, acct.ID, model.PurposeLogin, code)
		if !ok {
			if !isCodeOutcome(verr) {
				return Transition{}, verr
			}
			s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "bad_second_factor"), audit.F("method", MethodEmail), audit.F("username", acct.Username), audit.F("ip", clientIP))
			return pendingAgain(claims, "Invalid or expired code."), fmt.Errorf("%w: %w", ErrInvalidCredential, verr)
		}
	default:
		return Transition{}, fmt.Errorf("%w: unknown second factor", ErrInvalidCredential)
	}

	won, err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAtTime())
	if err != nil {
		return Transition{}, fmt.Errorf("consume pending marker: %w", err)
	}
	if !won {
		// a concurrent request already finished this login
		return Transition{}, fmt.Errorf("%w: login already completed", ErrInvalidCredential)
	}

	t, err := s.authenticated(acct)
	if err != nil {
		return Transition{}, err
	}
	s.audit.Record(ctx, audit.KindLogin, audit.F("outcome", "success"), audit.F("method", claims.Method), audit.F("username", acct.Username), audit.F("role", acct.Role), audit.F("ip", clientIP))
	return t, nil
}

// ResendLoginCode issues a fresh emailed login code for a pending email login
func (s *Service) ResendLoginCode(ctx context.Context, pendingToken string) error {
	claims, acct, err := s.loadPending(ctx, pendingToken)
	if err != nil {
		return err
	}
	if claims.Method != MethodEmail {
		return fmt.Errorf("%w: login is not waiting for an email code", ErrPreconditionFailed)
	}
	if err := s.sendLoginCode(ctx, acct); err != nil {
		s.logger.Warn().Err(err).Str("username", acct.Username).Msg("login code delivery failed")
		return err
	}
	return nil
}

// Logout revokes a session token
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	claims, err := s.tokens.VerifyToken(sessionToken, TokenSession)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if _, err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.audit.Record(ctx, audit.KindLogout, audit.F("account", claims.Subject))
	return nil
}

// Authenticate resolves a session token to its account
func (s *Service) Authenticate(ctx context.Context, sessionToken string) (model.Account, error) {
	claims, err := s.tokens.VerifyToken(sessionToken, TokenSession)
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return model.Account{}, fmt.Errorf("check session: %w", err)
	}
	if revoked {
		return model.Account{}, fmt.Errorf("%w: session revoked", ErrInvalidCredential)
	}
	id, _ := claims.AccountID()
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, fmt.Errorf("%w: account gone", ErrInvalidCredential)
		}
		return model.Account{}, fmt.Errorf("load account: %w", err)
	}
	if acct.IsLocked(s.now()) {
		return model.Account{}, &LockedError{Reason: acct.LockReason, Until: acct.LockedUntil}
	}
	return acct, nil
}

// LockAccount sets an administrator lock that lapses at until
func (s *Service) LockAccount(ctx context.Context, actor model.Account, accountID uuid.UUID, until time.Time) error {
	if !until.After(s.now()) {
		return fmt.Errorf("%w: lock must end in the future", ErrPreconditionFailed)
	}
	target, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.Lock(ctx, target.ID, model.LockAdmin, &until); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	s.audit.Record(ctx, audit.KindAccountLocked, audit.F("username", target.Username), audit.F("reason", model.LockAdmin), audit.F("until", until.UTC().Format(time.RFC3339)), audit.F("by", actor.Username))
	return nil
}

// UnlockAccount clears any lock and the failed-attempt counter
func (s *Service) UnlockAccount(ctx context.Context, actor model.Account, accountID uuid.UUID) error {
	target, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.Unlock(ctx, target.ID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	s.audit.Record(ctx, audit.KindAccountUnlocked, audit.F("username", target.Username), audit.F("by", actor.Username))
	return nil
}

func (s *Service) getAccount(ctx context.Context, id uuid.UUID) (model.Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

func (s *Service) loadPending(ctx context.Context, pendingToken string) (*JWTClaims, model.Account, error) {
	claims, err := s.tokens.VerifyToken(pendingToken, TokenPending)
	if err != nil {
		return nil, model.Account{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, model.Account{}, fmt.Errorf("check pending marker: %w", err)
	}
	if revoked {
		return nil, model.Account{}, fmt.Errorf("%w: login already completed", ErrInvalidCredential)
	}
	id, _ := claims.AccountID()
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, model.Account{}, fmt.Errorf("%w: account gone", ErrInvalidCredential)
		}
		return nil, model.Account{}, fmt.Errorf("load account: %w", err)
	}
	if acct.IsLocked(s.now()) {
		return nil, model.Account{}, &LockedError{Reason: acct.LockReason, Until: acct.LockedUntil}
	}
	return claims, acct, nil
}

func (s *Service) sendLoginCode(ctx context.Context, acct model.Account) error {
	if acct.Email == "" {
		return fmt.Errorf("%w: account has no email", ErrDeliveryFailed)
	}
	code, err := s.codes.Issue(ctx, acct.ID, model.PurposeLogin)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Your %s login 2FA code is: %s\nThis code expires in %d minutes.", acct.Username, code, int(s.codes.ttl.Minutes()))
	if err := s.notifier.Send(ctx, acct.Email, "Your Login 2FA Code", body); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Service) pending(acct model.Account, method Method) (Transition, error) {
	token, claims, err := s.tokens.SignPending(acct, method)
	if err != nil {
		return Transition{}, err
	}
	return Transition{
		State:     StatePending,
		Method:    method,
		Token:     token,
		ExpiresAt: claims.ExpiresAtTime(),
	}, nil
}

func (s *Service) authenticated(acct model.Account) (Transition, error) {
	token, claims, err := s.tokens.SignSession(acct)
	if err != nil {
		return Transition{}, err
	}
	return Transition{
		State:     StateAuthenticated,
		Token:     token,
		ExpiresAt: claims.ExpiresAtTime(),
		Account:   &acct,
		Landing:   LandingFor(acct.Role),
		Message:   "Login successful!",
	}, nil
}

func pendingAgain(claims *JWTClaims, msg string) Transition {
	return Transition{
		State:     StatePending,
		Method:    claims.Method,
		ExpiresAt: claims.ExpiresAtTime(),
		Message:   msg,
	}
}

func lockedTransition(acct model.Account) Transition {
	t := Transition{
		State:      StateLockedOut,
		LockReason: acct.LockReason,
		Message:    lockMessage(acct.LockReason, acct.LockedUntil),
	}
	if acct.LockReason == model.LockAdmin {
		t.LockedUntil = acct.LockedUntil
	}
	return t
}

func rejectedMessage(remaining int) string {
	return fmt.Sprintf("Invalid username or password. %d attempts remaining.", remaining)
}

// isCodeOutcome reports whether err is a verification verdict rather than a failure
func isCodeOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrRateLimited) || errors.Is(err, ErrInvalidCredential)
}
