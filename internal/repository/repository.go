package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fathima-sithara/identity-service/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user with this email, username or subject already exists")
	// ErrTokenNotFound means no record matched the email, token hash and
	// unexpired window at the moment of the conditional update.
	ErrTokenNotFound = errors.New("token not found or expired")
)

// UserRepository is the profile store. Implementations normalize emails on
// every read and write and never keep a password hash on a linked record.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindBySubjectID(ctx context.Context, subjectID string) (*models.User, error)

	// Update applies patch in a single write. A patch that sets a password
	// hash only matches unlinked records; one that links a subject also
	// removes the password hash.
	Update(ctx context.Context, id primitive.ObjectID, patch models.UserPatch) error

	SetToken(ctx context.Context, id primitive.ObjectID, kind models.TokenKind, hash string, expiry time.Time) error
	ClearToken(ctx context.Context, id primitive.ObjectID, kind models.TokenKind) error

	// ConsumeVerificationToken marks the email verified and clears the token
	// in one conditional write.
	ConsumeVerificationToken(ctx context.Context, email, hash string, now time.Time) (*models.User, error)
	// ConsumeResetToken stores newPasswordHash and clears the token in one
	// conditional write. Linked records never match.
	ConsumeResetToken(ctx context.Context, email, hash, newPasswordHash string, now time.Time) (*models.User, error)

	// PurgeLinkedPasswords removes password hashes left on linked records.
	PurgeLinkedPasswords(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
