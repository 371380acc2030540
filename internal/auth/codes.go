package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo"
)

const (
	codeDigits      = 6
	CodeTTL         = 10 * time.Minute
	MaxCodeAttempts = 5
)

// CodeStore issues and verifies emailed one-time codes backed by a CodeRepo
type CodeStore struct {
	codeRepo    repo.CodeRepo
	salt        string
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewCodeStore creates a code store with a 10 minute TTL and 5 attempts per code
func NewCodeStore(codeRepo repo.CodeRepo, salt string) *CodeStore {
	return &CodeStore{
		codeRepo:    codeRepo,
		salt:        salt,
		ttl:         CodeTTL,
		maxAttempts: MaxCodeAttempts,
		now:         time.Now,
	}
}

// WithClock returns a copy of the store using now as its clock
func (s *CodeStore) WithClock(now func() time.Time) *CodeStore {
	c := *s
	c.now = now
	return &c
}

// Issue creates a new code for (account, purpose) and returns the plaintext once.
// Every earlier unconsumed code for the same pair is invalidated in the same transaction.
func (s *CodeStore) Issue(ctx context.Context, accountID uuid.UUID, purpose model.CodePurpose) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	hashHex := hashCodeHex(accountID, purpose, code, s.salt)
	if _, err := s.codeRepo.Replace(ctx, accountID, purpose, hashHex, s.now().Add(s.ttl)); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	// Never log the plaintext code
	return code, nil
}

// Verify checks code against the live code for (account, purpose). It fails closed:
// false with ErrNotFound, ErrExpired, ErrRateLimited or ErrInvalidCredential. Every
// call that reaches the comparison counts as an attempt, successful or not.
func (s *CodeStore) Verify(ctx context.Context, accountID uuid.UUID, purpose model.CodePurpose, code string) (bool, error) {
	rec, err := s.codeRepo.GetLive(ctx, accountID, purpose)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("load code: %w", err)
	}

	now := s.now()
	if !now.Before(rec.ExpiresAt) {
		return false, ErrExpired
	}
	if rec.Attempts >= s.maxAttempts {
		return false, ErrRateLimited
	}

	if _, err := s.codeRepo.IncrementAttempt(ctx, rec.ID, s.maxAttempts, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// lost a race with another attempt or the expiry
			return false, ErrRateLimited
		}
		return false, fmt.Errorf("record attempt: %w", err)
	}

	provided := hashCodeBytes(accountID, purpose, strings.TrimSpace(code), s.salt)
	if subtle.ConstantTimeCompare(provided, rec.CodeHash) != 1 {
		return false, ErrInvalidCredential
	}

	if err := s.codeRepo.MarkConsumed(ctx, rec.ID, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("consume code: %w", err)
	}
	return true, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// hashCodeHex returns SHA-256(account:purpose:code:salt) as hex for DB storage
func hashCodeHex(accountID uuid.UUID, purpose model.CodePurpose, code, salt string) string {
	return hex.EncodeToString(hashCodeBytes(accountID, purpose, code, salt))
}

func hashCodeBytes(accountID uuid.UUID, purpose model.CodePurpose, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s:%s", accountID, purpose, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}
