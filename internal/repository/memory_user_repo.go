package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/identity-service/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryUserRepo is an in-process UserRepository with the same uniqueness and
// conditional-update rules as the Mongo implementation.
type MemoryUserRepo struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
	now   func() time.Time
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users: make(map[primitive.ObjectID]*models.User),
		now:   time.Now,
	}
}

func clone(u *models.User) *models.User {
	c := *u
	if u.VerificationTokenExpiry != nil {
		t := *u.VerificationTokenExpiry
		c.VerificationTokenExpiry = &t
	}
	if u.PasswordResetTokenExpiry != nil {
		t := *u.PasswordResetTokenExpiry
		c.PasswordResetTokenExpiry = &t
	}
	return &c
}

// conflicts reports whether candidate collides with any record other than itself.
func (r *MemoryUserRepo) conflicts(candidate *models.User) bool {
	for id, u := range r.users {
		if id == candidate.ID {
			continue
		}
		if u.Email == candidate.Email || strings.EqualFold(u.Username, candidate.Username) {
			return true
		}
		if candidate.ExternalSubjectID != "" && u.ExternalSubjectID == candidate.ExternalSubjectID {
			return true
		}
	}
	return false
}

func (r *MemoryUserRepo) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	u.Email = NormalizeEmail(u.Email)
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.ExternalSubjectID != "" {
		u.PasswordHash = ""
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	if r.conflicts(u) {
		return ErrDuplicateUser
	}
	r.users[u.ID] = clone(u)
	return nil
}

func (r *MemoryUserRepo) find(match func(*models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryUserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r *MemoryUserRepo) FindBySubjectID(_ context.Context, subjectID string) (*models.User, error) {
	if subjectID == "" {
		return nil, ErrUserNotFound
	}
	return r.find(func(u *models.User) bool { return u.ExternalSubjectID == subjectID })
}

func (r *MemoryUserRepo) Update(_ context.Context, id primitive.ObjectID, p models.UserPatch) error {
	if p.Empty() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if p.PasswordHash != nil && cur.IsLinked() {
		return ErrUserNotFound
	}

	next := clone(cur)
	if p.Username != nil {
		next.Username = *p.Username
	}
	if p.Email != nil {
		next.Email = NormalizeEmail(*p.Email)
	}
	if p.EmailVerified != nil {
		next.EmailVerified = *p.EmailVerified
	}
	if p.ExternalDisplayName != nil {
		next.ExternalDisplayName = *p.ExternalDisplayName
	}
	if p.Avatar != nil {
		next.Avatar = *p.Avatar
	}
	if p.PasswordHash != nil {
		next.PasswordHash = *p.PasswordHash
	}
	if p.ExternalSubjectID != nil && *p.ExternalSubjectID != "" {
		next.ExternalSubjectID = *p.ExternalSubjectID
		next.PasswordHash = ""
	}
	if p.ClearPassword {
		next.PasswordHash = ""
	}
	if p.ClearVerificationToken {
		next.VerificationTokenHash = ""
		next.VerificationTokenExpiry = nil
	}
	if r.conflicts(next) {
		return ErrDuplicateUser
	}
	next.UpdatedAt = r.now().UTC()
	r.users[id] = next
	return nil
}

func (r *MemoryUserRepo) SetToken(_ context.Context, id primitive.ObjectID, kind models.TokenKind, hash string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	exp := expiry.UTC()
	if kind == models.PasswordResetToken {
		u.PasswordResetTokenHash, u.PasswordResetTokenExpiry = hash, &exp
	} else {
		u.VerificationTokenHash, u.VerificationTokenExpiry = hash, &exp
	}
	u.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryUserRepo) ClearToken(_ context.Context, id primitive.ObjectID, kind models.TokenKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil
	}
	if kind == models.PasswordResetToken {
		u.PasswordResetTokenHash, u.PasswordResetTokenExpiry = "", nil
	} else {
		u.VerificationTokenHash, u.VerificationTokenExpiry = "", nil
	}
	u.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryUserRepo) ConsumeVerificationToken(_ context.Context, email, hash string, now time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email != email || u.VerificationTokenHash == "" || u.VerificationTokenHash != hash {
			continue
		}
		if u.VerificationTokenExpiry == nil || !now.Before(*u.VerificationTokenExpiry) {
			continue
		}
		u.EmailVerified = true
		u.VerificationTokenHash, u.VerificationTokenExpiry = "", nil
		u.UpdatedAt = now.UTC()
		return clone(u), nil
	}
	return nil, ErrTokenNotFound
}

func (r *MemoryUserRepo) ConsumeResetToken(_ context.Context, email, hash, newPasswordHash string, now time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email != email || u.IsLinked() || u.PasswordResetTokenHash == "" || u.PasswordResetTokenHash != hash {
			continue
		}
		if u.PasswordResetTokenExpiry == nil || !now.Before(*u.PasswordResetTokenExpiry) {
			continue
		}
		u.PasswordHash = newPasswordHash
		u.PasswordResetTokenHash, u.PasswordResetTokenExpiry = "", nil
		u.UpdatedAt = now.UTC()
		return clone(u), nil
	}
	return nil, ErrTokenNotFound
}

func (r *MemoryUserRepo) PurgeLinkedPasswords(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, u := range r.users {
		if u.IsLinked() && u.PasswordHash != "" {
			u.PasswordHash = ""
			n++
		}
	}
	return n, nil
}

func (r *MemoryUserRepo) Ping(context.Context) error { return nil }

// Put stores u as-is, bypassing the linked-password rule. Used to seed
// records written before that rule existed.
func (r *MemoryUserRepo) Put(u *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	r.users[u.ID] = clone(u)
}
