package auth

import "errors"

// Token verification failures. Handlers translate these to 400/401
// responses; nothing below the handler layer knows about HTTP.
var (
	ErrTokenMalformed   = errors.New("token is malformed")
	ErrTokenExpired     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrPurposeMismatch  = errors.New("token was issued for a different purpose")
	ErrUnknownAlgorithm = errors.New("unsupported signing algorithm")
)

// Workflow failures.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email address is not verified")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrUserConflict       = errors.New("user already exists")
)
