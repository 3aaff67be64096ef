package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func strPtr(s string) *string { return &s }

func TestMemoryCreateNormalizesAndEnforcesUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo()

	u := &models.User{Username: "alice", Email: "  Alice@Example.COM "}
	require.NoError(t, repo.Create(ctx, u))
	assert.Equal(t, "alice@example.com", u.Email)
	assert.False(t, u.ID.IsZero())

	got, err := repo.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	err = repo.Create(ctx, &models.User{Username: "other", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	err = repo.Create(ctx, &models.User{Username: "alice", Email: "new@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestUsernamesAreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo()
	alice := &models.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, repo.Create(ctx, alice))

	err := repo.Create(ctx, &models.User{Username: "Alice", Email: "alice2@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	other := &models.User{Username: "alice1", Email: "alice1@example.com"}
	require.NoError(t, repo.Create(ctx, other))
	assert.ErrorIs(t, repo.Update(ctx, other.ID, models.UserPatch{Username: strPtr("ALICE")}), ErrDuplicateUser)

	got, err := repo.FindByUsername(ctx, "aLiCe")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	require.NoError(t, repo.Update(ctx, alice.ID, models.UserPatch{Username: strPtr("Alice")}))

	assert.Equal(t, "en", usernameCollation.Locale)
	assert.Equal(t, 2, usernameCollation.Strength)
}

func TestMemoryLinkingRemovesPassword(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo()
	u := &models.User{Username: "bob", Email: "bob@example.com", PasswordHash: "hash"}
	require.NoError(t, repo.Create(ctx, u))

	require.NoError(t, repo.Update(ctx, u.ID, models.UserPatch{ExternalSubjectID: strPtr("uid-1")}))

	got, err := repo.FindBySubjectID(ctx, "uid-1")
	require.NoError(t, err)
	assert.Empty(t, got.PasswordHash)

	err = repo.Update(ctx, u.ID, models.UserPatch{PasswordHash: strPtr("again")})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryConsumeVerificationTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo()
	u := &models.User{Username: "carol", Email: "carol@example.com"}
	require.NoError(t, repo.Create(ctx, u))

	now := time.Now()
	require.NoError(t, repo.SetToken(ctx, u.ID, models.VerificationToken, "h1", now.Add(time.Hour)))

	_, err := repo.ConsumeVerificationToken(ctx, "carol@example.com", "wrong", now)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	got, err := repo.ConsumeVerificationToken(ctx, "carol@example.com", "h1", now)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
	assert.Empty(t, got.VerificationTokenHash)
	assert.Nil(t, got.VerificationTokenExpiry)

	_, err = repo.ConsumeVerificationToken(ctx, "carol@example.com", "h1", now)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryConsumeRejectsAtExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo()
	u := &models.User{Username: "dave", Email: "dave@example.com"}
	require.NoError(t, repo.Create(ctx, u))

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, repo.SetToken(ctx, u.ID, models.PasswordResetToken, "h", expiry))

	_, err := repo.ConsumeResetToken(ctx, u.Email, "h", "newhash", expiry)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	got, err := repo.ConsumeResetToken(ctx, u.Email, "h", "newhash", expiry.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)
}

func TestMemoryPurgeLinkedPasswords(t *testing.T) {
	repo := NewMemoryUserRepo()
	repo.Put(&models.User{Username: "a", Email: "a@x.io", ExternalSubjectID: "s1", PasswordHash: "h"})
	repo.Put(&models.User{Username: "b", Email: "b@x.io", PasswordHash: "h"})

	n, err := repo.PurgeLinkedPasswords(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	b, err := repo.FindByEmail(context.Background(), "b@x.io")
	require.NoError(t, err)
	assert.Equal(t, "h", b.PasswordHash)
}

func TestPatchUpdateLinkUnsetsPassword(t *testing.T) {
	now := time.Now().UTC()
	upd := patchUpdate(models.UserPatch{
		ExternalSubjectID: strPtr("uid"),
		PasswordHash:      strPtr("ignored"),
		Avatar:            strPtr("https://img"),
	}, now)

	set := upd["$set"].(bson.M)
	unset := upd["$unset"].(bson.M)
	assert.Equal(t, "uid", set["external_subject_id"])
	assert.Equal(t, "https://img", set["avatar"])
	assert.NotContains(t, set, "password_hash")
	assert.Contains(t, unset, "password_hash")
}

func TestPatchFilterGuardsPasswordWrites(t *testing.T) {
	id := primitive.NewObjectID()
	assert.Equal(t, bson.M{"_id": id}, patchFilter(id, models.UserPatch{Username: strPtr("x")}))

	f := patchFilter(id, models.UserPatch{PasswordHash: strPtr("h")})
	assert.Equal(t, bson.M{"$exists": false}, f["external_subject_id"])
}

func TestTokenFilterUsesStrictExpiry(t *testing.T) {
	now := time.Now()
	f := tokenFilter(models.PasswordResetToken, " X@Y.io", "abc", now)
	assert.Equal(t, "x@y.io", f["email"])
	assert.Equal(t, "abc", f["password_reset_token_hash"])
	assert.Equal(t, bson.M{"$gt": now.UTC()}, f["password_reset_token_expiry"])
}
