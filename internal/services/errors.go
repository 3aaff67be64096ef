package services

import "errors"

// Invalid credential: the caller could not prove who they are.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidBearer      = errors.New("invalid or missing identity token")
	ErrSubjectMismatch    = errors.New("identity token does not match firebaseUid")
	ErrAccountLinked      = errors.New("account uses external sign-in, re-authenticate with the identity provider")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

// Conflict.
var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already registered")
	ErrSubjectTaken  = errors.New("identity already registered")
)

var ErrUserNotFound = errors.New("user not found")

var ErrEmailNotVerified = errors.New("email not verified")

// Validation.
var (
	ErrPasswordRequired   = errors.New("password is required")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrProviderUnverified = errors.New("identity provider has not verified this email")
	ErrInvalidInput       = errors.New("invalid input")
)

// ErrDeliveryFailed means a token was issued but could not be sent; the token
// has been withdrawn.
var ErrDeliveryFailed = errors.New("failed to send email")
