package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the application's profile record. Once ExternalSubjectID is set the
// external identity provider is the source of truth for credentials and
// PasswordHash must be empty.
type User struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username            string             `bson:"username" json:"username"`
	Email               string             `bson:"email" json:"email"`
	PasswordHash        string             `bson:"password_hash,omitempty" json:"-"`
	ExternalSubjectID   string             `bson:"external_subject_id,omitempty" json:"firebaseUid,omitempty"`
	ExternalDisplayName string             `bson:"external_display_name,omitempty" json:"-"`
	EmailVerified       bool               `bson:"email_verified" json:"emailVerified"`
	Avatar              string             `bson:"avatar,omitempty" json:"avatar,omitempty"`

	VerificationTokenHash    string     `bson:"verification_token_hash,omitempty" json:"-"`
	VerificationTokenExpiry  *time.Time `bson:"verification_token_expiry,omitempty" json:"-"`
	PasswordResetTokenHash   string     `bson:"password_reset_token_hash,omitempty" json:"-"`
	PasswordResetTokenExpiry *time.Time `bson:"password_reset_token_expiry,omitempty" json:"-"`

	TotalXP int `bson:"total_xp" json:"totalXP"`
	Level   int `bson:"level" json:"level"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// IsLinked reports whether the account is anchored to the external provider.
func (u *User) IsLinked() bool {
	return u.ExternalSubjectID != ""
}

// UserPatch lists the fields an update may set. Nil pointers are left alone.
type UserPatch struct {
	Username            *string
	Email               *string
	EmailVerified       *bool
	ExternalSubjectID   *string
	ExternalDisplayName *string
	Avatar              *string
	PasswordHash        *string

	// ClearPassword removes the stored hash. Linking always sets it.
	ClearPassword bool
	// ClearVerificationToken removes the pending verification secret.
	ClearVerificationToken bool
}

// Empty reports whether applying the patch would change nothing.
func (p UserPatch) Empty() bool {
	return p.Username == nil && p.Email == nil && p.EmailVerified == nil &&
		p.ExternalSubjectID == nil && p.ExternalDisplayName == nil && p.Avatar == nil &&
		p.PasswordHash == nil && !p.ClearPassword && !p.ClearVerificationToken
}

// TokenKind selects which of the two side-channel token slots an operation targets.
type TokenKind int

const (
	VerificationToken TokenKind = iota
	PasswordResetToken
)

func (k TokenKind) String() string {
	if k == PasswordResetToken {
		return "password_reset"
	}
	return "verification"
}
