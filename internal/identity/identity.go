package identity

import (
	"context"
	"errors"
)

var (
	// ErrInvalidToken means the provider rejected the bearer credential.
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrUnavailable means every verification path failed.
	ErrUnavailable = errors.New("identity verification unavailable")
	// ErrNotConfigured means a verifier has no credentials to work with.
	ErrNotConfigured = errors.New("identity verifier not configured")
)

// ExternalIdentity is what the provider asserts about a subject.
type ExternalIdentity struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
}

// Verifier turns a bearer credential into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (*ExternalIdentity, error)
}

// Provider reads and updates subjects on the provider side.
type Provider interface {
	GetSubject(ctx context.Context, subjectID string) (*ExternalIdentity, error)
	UpdateDisplayName(ctx context.Context, subjectID, displayName string) error
}
