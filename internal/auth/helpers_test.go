package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo/memrepo"
	"github.com/tripletsrewards/server/internal/session"
	"golang.org/x/crypto/bcrypt"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

type testEnv struct {
	svc      *Service
	store    *memrepo.Store
	notifier *mockNotifier
	hasher   *PasswordHasher
	now      time.Time
}

func (e *testEnv) clock() time.Time { return e.now }

func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zerolog.Nop()
	store := memrepo.New()
	env := &testEnv{
		store:    store,
		notifier: &mockNotifier{},
		hasher:   NewPasswordHasher(bcrypt.MinCost),
		now:      time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	store.SetClock(env.clock)

	env.svc = NewService(
		store.Accounts,
		NewCodeStore(store.Codes, "test-salt"),
		NewJWTService("test-secret", time.Hour, 10*time.Minute),
		env.hasher,
		session.NewRevocationStore(client),
		env.notifier,
		audit.NewRecorder(store.Audit, &logger),
		&logger,
		Options{PublicBaseURL: "https://rewards.example.com"},
	)
	env.svc.SetClock(env.clock)
	return env
}

func (e *testEnv) createAccount(t *testing.T, username, password string, role model.Role) model.Account {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	acct, err := e.store.Accounts.Create(context.Background(), model.NewAccount{
		Username:     username,
		Email:        username + "@example.com",
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		Role:         role,
	})
	require.NoError(t, err)
	return acct
}

func (e *testEnv) reload(t *testing.T, acct model.Account) model.Account {
	t.Helper()
	got, err := e.store.Accounts.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	return got
}

var sixDigits = regexp.MustCompile(`\b(\d{6})\b`)

// expectMail captures the body of the next message sent to addr
func (e *testEnv) expectMail(addr string, body *string) *mock.Call {
	return e.notifier.On("Send", mock.Anything, addr, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { *body = args.String(3) }).
		Return(nil).Once()
}

func codeIn(t *testing.T, body string) string {
	t.Helper()
	m := sixDigits.FindStringSubmatch(body)
	require.NotNil(t, m, "no code in %q", body)
	return m[1]
}
