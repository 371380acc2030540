package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
)

const (
	defaultSessionTTL = 24 * time.Hour
	defaultPendingTTL = 10 * time.Minute
)

// TokenType separates session tokens from pending-second-factor markers
type TokenType string

const (
	TokenSession TokenType = "session"
	TokenPending TokenType = "pending_2fa"
)

// Method is the second factor a pending marker is waiting for
type Method string

const (
	MethodTOTP  Method = "totp"
	MethodEmail Method = "email"
)

// JWTClaims represents the JWT token claims (supports both session tokens and pending markers)
type JWTClaims struct {
	Type   TokenType  `json:"typ"`
	Role   model.Role `json:"role,omitempty"`
	Method Method     `json:"mfa,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the account the token was issued to
func (c *JWTClaims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// ExpiresAtTime returns the expiry, or the zero time if unset
func (c *JWTClaims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// JWTService handles JWT token operations
type JWTService struct {
	secret     []byte
	sessionTTL time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

// NewJWTService creates a new JWT service. Zero TTLs fall back to 24h sessions and 10m pending markers.
func NewJWTService(secret string, sessionTTL, pendingTTL time.Duration) *JWTService {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	return &JWTService{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

// WithClock returns a copy of the service that uses now for issuing and validating tokens
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	c := *s
	c.now = now
	return &c
}

func (s *JWTService) sign(claims *JWTClaims, ttl time.Duration) (string, *JWTClaims, error) {
	now := s.now()
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return tokenString, claims, nil
}

// SignSession creates a session token for an authenticated account
func (s *JWTService) SignSession(acct model.Account) (string, *JWTClaims, error) {
	return s.sign(&JWTClaims{
		Type: TokenSession,
		Role: acct.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: acct.ID.String(),
		},
	}, s.sessionTTL)
}

// SignPending creates a pending-second-factor marker naming the awaited method
func (s *JWTService) SignPending(acct model.Account, method Method) (string, *JWTClaims, error) {
	return s.sign(&JWTClaims{
		Type:   TokenPending,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: acct.ID.String(),
		},
	}, s.pendingTTL)
}

// VerifyToken verifies and parses a JWT token of the wanted type
func (s *JWTService) VerifyToken(tokenString string, want TokenType) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Type != want {
		return nil, fmt.Errorf("unexpected token type %q", claims.Type)
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}

	return claims, nil
}
