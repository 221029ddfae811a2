package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"contacts-api/internal/observability"
)

// Mailer is the outbound email side channel. Dispatch failures are
// logged and never roll back the triggering workflow.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, username, token string) error
	SendPasswordReset(ctx context.Context, email, username, token string) error
}

type Service struct {
	store            UserStore
	tokens           *TokenService
	mailer           Mailer
	cache            UserCache
	logger           *observability.Logger
	requireConfirmed bool
}

func NewService(store UserStore, tokens *TokenService, mailer Mailer, cache UserCache, logger *observability.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		cache:  cache,
		logger: logger,
	}
}

// RequireConfirmedEmail makes login reject accounts whose email is not
// verified yet. Off by default; the check lives here, not in the token
// service.
func (s *Service) RequireConfirmedEmail(enabled bool) {
	s.requireConfirmed = enabled
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an unconfirmed account and dispatches the
// confirmation email. The account exists regardless of whether the
// email went out; the user can re-request it later.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	username := strings.TrimSpace(strings.ToLower(input.Username))
	email := strings.TrimSpace(strings.ToLower(input.Email))

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}
	if _, err := s.store.GetByUsername(ctx, username); err == nil {
		return User{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.Create(ctx, User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
		AvatarURL:    gravatarURL(email),
		Confirmed:    false,
	})
	if err != nil {
		return User{}, err
	}

	s.sendConfirmation(ctx, user)

	return user.Public(), nil
}

// Login verifies credentials and issues an access token. Unknown user
// and wrong password produce the identical error so usernames cannot
// be enumerated.
func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	username = strings.TrimSpace(strings.ToLower(username))

	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Tokens{}, ErrInvalidCredentials
	}

	if s.requireConfirmed && !user.Confirmed {
		return Tokens{}, ErrEmailNotConfirmed
	}

	access, err := s.tokens.IssueAccess(user.Username)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// ConfirmEmail consumes a confirmation token. Re-confirming an already
// confirmed account is a no-op success.
func (s *Service) ConfirmEmail(ctx context.Context, tokenString string) (alreadyConfirmed bool, err error) {
	email, err := s.tokens.Verify(tokenString, PurposeConfirm)
	if err != nil {
		return false, err
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if user.Confirmed {
		return true, nil
	}

	if err := s.store.ConfirmEmail(ctx, email); err != nil {
		return false, err
	}
	s.cache.Invalidate(ctx, user.Username)

	return false, nil
}

// ResendConfirmation re-sends the confirmation email. It reports
// nothing about account existence.
func (s *Service) ResendConfirmation(ctx context.Context, email string) (alreadyConfirmed bool, err error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Confirmed {
		return true, nil
	}

	s.sendConfirmation(ctx, user)

	return false, nil
}

// ForgotPassword issues a reset token and emails the link. The caller
// responds identically whether or not the email matched an account.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := s.tokens.IssueReset(user.Email)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Username, token); err != nil {
		s.logger.Error("reset_email_failed", map[string]any{"error": err.Error()})
	}

	return nil
}

// VerifyResetToken validates a reset token without consuming it, for
// the GET handler that serves the reset form.
func (s *Service) VerifyResetToken(tokenString string) (string, error) {
	return s.tokens.Verify(tokenString, PurposeReset)
}

// ResetPassword consumes a reset token and overwrites the stored hash.
// Previously issued access tokens stay valid until their own expiry;
// stateless tokens are not proactively revoked.
func (s *Service) ResetPassword(ctx context.Context, tokenString, newPassword string) error {
	email, err := s.tokens.Verify(tokenString, PurposeReset)
	if err != nil {
		return err
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, email, string(hash)); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, user.Username)

	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, user User) {
	token, err := s.tokens.IssueConfirm(user.Email)
	if err != nil {
		s.logger.Error("confirm_token_failed", map[string]any{"error": err.Error()})
		return
	}

	if err := s.mailer.SendConfirmation(ctx, user.Email, user.Username, token); err != nil {
		s.logger.Error("confirm_email_failed", map[string]any{"error": err.Error()})
	}
}
