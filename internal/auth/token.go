package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose restricts which workflow may accept a token. A confirmation
// token must never pass verification on the reset path and vice versa.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeConfirm Purpose = "confirm"
	PurposeReset   Purpose = "reset"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultConfirmTTL = 24 * time.Hour
	defaultResetTTL   = 15 * time.Minute
)

type TokenConfig struct {
	Secret     string
	Algorithm  string // HS256 (default), HS384 or HS512
	AccessTTL  time.Duration
	ConfirmTTL time.Duration
	ResetTTL   time.Duration
}

type claims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies the three token kinds. It is pure
// computation over the configured secret; it never touches storage.
type TokenService struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	confirmTTL time.Duration
	resetTTL   time.Duration
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token service: empty signing secret")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("token service: %w: %s", ErrUnknownAlgorithm, cfg.Algorithm)
	}

	s := &TokenService{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		confirmTTL: cfg.ConfirmTTL,
		resetTTL:   cfg.ResetTTL,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = defaultAccessTTL
	}
	if s.confirmTTL <= 0 {
		s.confirmTTL = defaultConfirmTTL
	}
	if s.resetTTL <= 0 {
		s.resetTTL = defaultResetTTL
	}

	return s, nil
}

// Issue signs a token carrying the subject, a purpose claim and
// expiry = now + ttl. A non-positive ttl produces an already expired
// token, which Verify rejects.
func (s *TokenService) Issue(subject string, purpose Purpose, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(s.method, claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", purpose, err)
	}

	return encoded, nil
}

// Verify checks signature, expiry and purpose, in that order, and
// returns the token's subject.
func (s *TokenService) Verify(tokenString string, expected Purpose) (string, error) {
	parsed := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		default:
			return "", ErrTokenMalformed
		}
	}
	if !token.Valid {
		return "", ErrTokenMalformed
	}

	if parsed.Purpose != expected {
		return "", ErrPurposeMismatch
	}

	return parsed.Subject, nil
}

// IssueAccess creates an access token for a username.
func (s *TokenService) IssueAccess(username string) (string, error) {
	return s.Issue(username, PurposeAccess, s.accessTTL)
}

// IssueConfirm creates an email-confirmation token for an email address.
func (s *TokenService) IssueConfirm(email string) (string, error) {
	return s.Issue(email, PurposeConfirm, s.confirmTTL)
}

// IssueReset creates a password-reset token for an email address.
func (s *TokenService) IssueReset(email string) (string, error) {
	return s.Issue(email, PurposeReset, s.resetTTL)
}

// AccessTTL reports the configured access-token lifetime, used for the
// expires_in field in login responses and the cache entry TTL.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}
