package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contacts-api/internal/observability"
)

type memStore struct {
	mu     sync.Mutex
	nextID int
	users  map[string]User // keyed by username
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]User)}
}

func (s *memStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *memStore) GetByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findByEmailLocked(email)
}

func (s *memStore) findByEmailLocked(email string) (User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *memStore) Create(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return User{}, ErrUsernameTaken
	}
	if _, err := s.findByEmailLocked(user.Email); err == nil {
		return User{}, ErrEmailTaken
	}

	s.nextID++
	user.ID = fmt.Sprintf("u%d", s.nextID)
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.Username] = user

	return user, nil
}

func (s *memStore) ConfirmEmail(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.findByEmailLocked(email)
	if err != nil {
		return err
	}
	user.Confirmed = true
	s.users[user.Username] = user

	return nil
}

func (s *memStore) UpdatePassword(_ context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.findByEmailLocked(email)
	if err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	s.users[user.Username] = user

	return nil
}

func (s *memStore) UpdateAvatar(_ context.Context, email, avatarURL string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.findByEmailLocked(email)
	if err != nil {
		return User{}, err
	}
	user.AvatarURL = avatarURL
	s.users[user.Username] = user

	return user, nil
}

type recordingMailer struct {
	mu            sync.Mutex
	confirmTokens map[string]string
	resetTokens   map[string]string
	failNext      bool
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{
		confirmTokens: make(map[string]string),
		resetTokens:   make(map[string]string),
	}
}

func (m *recordingMailer) SendConfirmation(_ context.Context, email, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext {
		m.failNext = false
		return fmt.Errorf("smtp unreachable")
	}
	m.confirmTokens[email] = token
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, email, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext {
		m.failNext = false
		return fmt.Errorf("smtp unreachable")
	}
	m.resetTokens[email] = token
	return nil
}

func (m *recordingMailer) resetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.resetTokens[email]
}

type serviceFixture struct {
	service *Service
	store   *memStore
	mailer  *recordingMailer
	tokens  *TokenService
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()

	tokens := newTestTokenService(t)
	store := newMemStore()
	mailer := newRecordingMailer()
	service := NewService(store, tokens, mailer, NewMemoryCache(time.Minute), observability.NewLogger())

	return serviceFixture{service: service, store: store, mailer: mailer, tokens: tokens}
}

func register(t *testing.T, f serviceFixture, username, email, password string) User {
	t.Helper()

	user, err := f.service.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)

	return user
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	user := register(t, f, "alice", "alice@x.com", "Secret123")
	require.Equal(t, "alice", user.Username)
	require.False(t, user.Confirmed)
	require.Empty(t, user.PasswordHash)
	require.Contains(t, user.AvatarURL, "gravatar.com")
	require.NotEmpty(t, f.mailer.confirmTokens["alice@x.com"])

	tokens, err := f.service.Login(ctx, "alice", "Secret123")
	require.NoError(t, err)
	require.Equal(t, "bearer", tokens.TokenType)

	subject, err := f.tokens.Verify(tokens.AccessToken, PurposeAccess)
	require.NoError(t, err)
	require.Equal(t, "alice", subject)
}

func TestRegisterConflicts(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")

	_, err := f.service.Register(ctx, RegisterInput{Username: "alice", Email: "other@x.com", Password: "Secret123"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.service.Register(ctx, RegisterInput{Username: "bob", Email: "alice@x.com", Password: "Secret123"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	f.mailer.failNext = true

	register(t, f, "alice", "alice@x.com", "Secret123")

	// The account exists unconfirmed even though the email never went out.
	stored, err := f.store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, stored.Confirmed)
}

func TestLoginUniformFailure(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")

	_, wrongPassword := f.service.Login(ctx, "alice", "WrongPass1")
	_, unknownUser := f.service.Login(ctx, "nobody", "Secret123")

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownUser, ErrInvalidCredentials)
}

func TestLoginConfirmationPolicy(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")
	f.service.RequireConfirmedEmail(true)

	_, err := f.service.Login(ctx, "alice", "Secret123")
	require.ErrorIs(t, err, ErrEmailNotConfirmed)

	require.NoError(t, f.store.ConfirmEmail(ctx, "alice@x.com"))

	_, err = f.service.Login(ctx, "alice", "Secret123")
	require.NoError(t, err)
}

func TestConfirmEmailIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")
	token := f.mailer.confirmTokens["alice@x.com"]

	already, err := f.service.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	require.False(t, already)

	already, err = f.service.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	require.True(t, already)

	stored, err := f.store.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.True(t, stored.Confirmed)
}

func TestConfirmEmailRejectsResetToken(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)

	register(t, f, "alice", "alice@x.com", "Secret123")
	reset, err := f.tokens.IssueReset("alice@x.com")
	require.NoError(t, err)

	_, err = f.service.ConfirmEmail(context.Background(), reset)
	require.ErrorIs(t, err, ErrPurposeMismatch)
}

func TestResendConfirmationNeverLeaksExistence(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)

	already, err := f.service.ResendConfirmation(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	require.False(t, already)
	require.Empty(t, f.mailer.confirmTokens["nobody@x.com"])
}

func TestForgotPasswordNeverLeaksExistence(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")

	require.NoError(t, f.service.ForgotPassword(ctx, "alice@x.com"))
	require.NoError(t, f.service.ForgotPassword(ctx, "nobody@x.com"))

	require.NotEmpty(t, f.mailer.resetToken("alice@x.com"))
	require.Empty(t, f.mailer.resetToken("nobody@x.com"))
}

func TestResetPasswordFlow(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")

	// An access token issued before the reset stays valid afterwards;
	// stateless tokens age out on their own expiry.
	before, err := f.service.Login(ctx, "alice", "Secret123")
	require.NoError(t, err)

	require.NoError(t, f.service.ForgotPassword(ctx, "alice@x.com"))
	token := f.mailer.resetToken("alice@x.com")
	require.NotEmpty(t, token)

	require.NoError(t, f.service.ResetPassword(ctx, token, "NewSecret456"))

	_, err = f.service.Login(ctx, "alice", "Secret123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.Login(ctx, "alice", "NewSecret456")
	require.NoError(t, err)

	_, err = f.tokens.Verify(before.AccessToken, PurposeAccess)
	require.NoError(t, err)
}

func TestResetPasswordRejectsBadTokens(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	register(t, f, "alice", "alice@x.com", "Secret123")

	confirm, err := f.tokens.IssueConfirm("alice@x.com")
	require.NoError(t, err)
	err = f.service.ResetPassword(ctx, confirm, "NewSecret456")
	require.ErrorIs(t, err, ErrPurposeMismatch)

	expired, err := f.tokens.Issue("alice@x.com", PurposeReset, -time.Minute)
	require.NoError(t, err)
	err = f.service.ResetPassword(ctx, expired, "NewSecret456")
	require.ErrorIs(t, err, ErrTokenExpired)

	// Original password still works after the failed attempts.
	_, err = f.service.Login(ctx, "alice", "Secret123")
	require.NoError(t, err)
}
