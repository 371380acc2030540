package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/authz"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/http/handlers"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo/memrepo"
	"github.com/tripletsrewards/server/internal/rewards"
	"github.com/tripletsrewards/server/internal/session"
	"golang.org/x/crypto/bcrypt"
)

type mail struct{ to, subject, body string }

type captureNotifier struct {
	mu   sync.Mutex
	sent []mail
}

func (n *captureNotifier) Send(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, mail{to, subject, body})
	return nil
}

func (n *captureNotifier) last(t *testing.T) mail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

type server struct {
	handler  http.Handler
	store    *memrepo.Store
	hasher   *auth.PasswordHasher
	notifier *captureNotifier
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zerolog.Nop()
	store := memrepo.New()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	notifier := &captureNotifier{}
	sink := audit.NewRecorder(store.Audit, &logger)

	authService := auth.NewService(
		store.Accounts,
		auth.NewCodeStore(store.Codes, "salt"),
		auth.NewJWTService("secret", time.Hour, 10*time.Minute),
		hasher,
		session.NewRevocationStore(client),
		notifier,
		sink,
		&logger,
		auth.Options{PublicBaseURL: "https://rewards.example.com"},
	)
	rewardsService := rewards.NewService(store.Accounts, store.Sponsors, store.Applications, store.Notifications, store.Audit, hasher, sink, &logger)
	bulk := bulkload.NewProcessor(store.Accounts, store.Sponsors, hasher, sink, t.TempDir(), &logger)
	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)

	router := NewRouter(ctx, Handlers{
		Auth:    handlers.NewAuthHandler(authService, &logger),
		Account: handlers.NewAccountHandler(authService, rewardsService, &logger),
		Admin:   handlers.NewAdminHandler(authService, rewardsService, bulk, &logger),
		Sponsor: handlers.NewSponsorHandler(rewardsService, bulk, &logger),
		Driver:  handlers.NewDriverHandler(rewardsService, &logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"redis": handlers.PingerFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
		}),
	}, Deps{Authenticator: authService, Policy: enforcer, Logger: &logger})

	return &server{handler: router, store: store, hasher: hasher, notifier: notifier}
}

func (s *server) account(t *testing.T, username, password string, role model.Role) model.Account {
	t.Helper()
	hash, err := s.hasher.Hash(password)
	require.NoError(t, err)
	na := model.NewAccount{Username: username, Email: username + "@example.com", PasswordHash: hash, Role: role}
	var acct model.Account
	if role == model.RoleSponsor {
		acct, err = s.store.Accounts.CreateSponsor(context.Background(), na, username+" Logistics")
	} else {
		acct, err = s.store.Accounts.Create(context.Background(), na)
	}
	require.NoError(t, err)
	return acct
}

func (s *server) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (s *server) login(t *testing.T, username, password string) string {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "authenticated", out["state"])
	return out["token"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec, out := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestLoginLandingLogout(t *testing.T) {
	s := newServer(t)
	s.account(t, "alice", "correct-horse", model.RoleDriver)

	rec, out := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/driver/dashboard", out["landing"])
	token := out["token"].(string)

	rec, out = s.do(t, http.MethodGet, "/landing", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/driver/dashboard", out["landing"])

	rec, _ = s.do(t, http.MethodGet, "/admin/dashboard", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/landing", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginLockout(t *testing.T) {
	s := newServer(t)
	s.account(t, "alice", "correct-horse", model.RoleDriver)
	creds := map[string]string{"username": "alice", "password": "wrong"}

	rec, out := s.do(t, http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "rejected", out["state"])
	assert.EqualValues(t, 2, out["attempts_remaining"])

	s.do(t, http.MethodPost, "/auth/login", "", creds)
	rec, out = s.do(t, http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "locked_out", out["state"])

	rec, out = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct-horse"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "Account locked. Please contact your administrator.", out["message"])
}

func TestLoginValidation(t *testing.T) {
	s := newServer(t)
	rec, out := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password is required", out["error"])
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func TestEmailSecondFactor(t *testing.T) {
	s := newServer(t)
	acct := s.account(t, "carol", "correct-horse", model.RoleSponsor)
	require.NoError(t, s.store.Accounts.SetEmail2FA(context.Background(), acct.ID, true))

	rec, out := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "carol", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "second_factor_pending", out["state"])
	assert.Equal(t, "email", out["method"])
	pending := out["token"].(string)

	m := codePattern.FindStringSubmatch(s.notifier.last(t).body)
	require.NotNil(t, m)
	wrong := "000000"
	if m[1] == wrong {
		wrong = "111111"
	}

	rec, out = s.do(t, http.MethodPost, "/auth/2fa/verify", "", map[string]string{"pending_token": pending, "code": wrong})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "second_factor_pending", out["state"])

	rec, out = s.do(t, http.MethodPost, "/auth/2fa/verify", "", map[string]string{"pending_token": pending, "code": m[1]})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "authenticated", out["state"])
	assert.Equal(t, "/sponsor/dashboard", out["landing"])

	// the marker is spent
	rec, _ = s.do(t, http.MethodPost, "/auth/2fa/verify", "", map[string]string{"pending_token": pending, "code": m[1]})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

var resetLink = regexp.MustCompile(`/reset/([A-Za-z0-9_-]+)`)

func TestPasswordReset(t *testing.T) {
	s := newServer(t)
	s.account(t, "alice", "correct-horse", model.RoleDriver)

	rec, out := s.do(t, http.MethodPost, "/auth/reset", "", map[string]string{"username": "nobody"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.ResetRequestedMessage, out["message"])

	rec, _ = s.do(t, http.MethodPost, "/auth/reset", "", map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	m := resetLink.FindStringSubmatch(s.notifier.last(t).body)
	require.NotNil(t, m)

	rec, _ = s.do(t, http.MethodPost, "/auth/reset/"+m[1], "", map[string]string{"password": "short", "confirm_password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/auth/reset/"+m[1], "", map[string]string{"password": "new-password-1", "confirm_password": "new-password-1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/auth/reset/"+m[1], "", map[string]string{"password": "new-password-1", "confirm_password": "new-password-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.login(t, "alice", "new-password-1")
}

func TestSponsorDriverFlow(t *testing.T) {
	s := newServer(t)
	s.account(t, "bob", "sponsor-pass", model.RoleSponsor)
	dana := s.account(t, "dana", "driver-pass", model.RoleDriver)
	bobToken := s.login(t, "bob", "sponsor-pass")
	danaToken := s.login(t, "dana", "driver-pass")

	rec, out := s.do(t, http.MethodPost, "/driver/applications", danaToken, map[string]string{"org_name": "bob Logistics"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appID := out["id"].(string)

	rec, _ = s.do(t, http.MethodPost, "/driver/applications", danaToken, map[string]string{"org_name": "bob Logistics"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/sponsor/applications/"+appID, bobToken, map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/sponsor/applications/"+appID, bobToken, map[string]string{"decision": "accept"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out = s.do(t, http.MethodPost, "/sponsor/drivers/"+dana.ID.String()+"/points", bobToken,
		map[string]any{"action": "award", "points": 25, "reason": "On-time delivery"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 25, out["points"])

	rec, out = s.do(t, http.MethodPost, "/sponsor/drivers/"+dana.ID.String()+"/points", bobToken,
		map[string]any{"action": "award", "points": 3000000000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "points must be at most 1000000", out["error"])

	rec, out = s.do(t, http.MethodGet, "/driver/dashboard", danaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 25, out["points"])
	assert.NotEmpty(t, out["notifications"])

	rec, out = s.do(t, http.MethodPost, "/sponsor/settings", bobToken, map[string]any{"ebay_category_id": "2984", "point_ratio": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 100, out["point_ratio"])

	rec, _ = s.do(t, http.MethodPost, "/sponsor/settings", danaToken, map[string]any{"point_ratio": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminLockAndBulkLoad(t *testing.T) {
	s := newServer(t)
	s.account(t, "root", "admin-pass", model.RoleAdministrator)
	alice := s.account(t, "alice", "correct-horse", model.RoleDriver)
	rootToken := s.login(t, "root", "admin-pass")

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec, _ := s.do(t, http.MethodPost, "/admin/accounts/"+alice.ID.String()+"/lock", rootToken, map[string]any{"until": until})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct-horse"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Contains(t, out["message"], "locked by an administrator until")

	rec, _ = s.do(t, http.MethodPost, "/admin/accounts/"+alice.ID.String()+"/unlock", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s.login(t, "alice", "correct-horse")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "load.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("S|Acme Freight|Jane|Doe|jane@acme.com\nD|Acme Freight|John|Smith|john@example.com|DL1\nQ|bad\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/bulk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+rootToken)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res bulkload.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)

	rec, _ = s.do(t, http.MethodGet, "/admin/bulk/logs/"+res.LogFile, rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown record type: Q")

	rec, _ = s.do(t, http.MethodGet, "/admin/bulk/logs/..%2F..%2Fetc%2Fpasswd", rootToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/admin/bulk/template", rootToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "S|"))
}
