package services

import (
	"context"
	"errors"
	"strings"

	"github.com/fathima-sithara/identity-service/internal/identity"
	"github.com/fathima-sithara/identity-service/internal/metrics"
	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/fathima-sithara/identity-service/internal/repository"
	"github.com/fathima-sithara/identity-service/internal/utils"
	"go.uber.org/zap"
)

// IdentitySync copies provider-owned fields onto the linked profile record.
// Every failure is logged and swallowed.
type IdentitySync struct {
	provider identity.Provider
	users    repository.UserRepository
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewIdentitySync(provider identity.Provider, users repository.UserRepository, m *metrics.Metrics, logger *zap.Logger) *IdentitySync {
	return &IdentitySync{provider: provider, users: users, metrics: m, log: logger}
}

// Reconcile pulls the provider's view of subjectID and applies the fields
// that differ in a single write. It never pushes local values back.
func (s *IdentitySync) Reconcile(ctx context.Context, subjectID string) {
	if s == nil || s.provider == nil || subjectID == "" {
		return
	}
	log := s.log.With(zap.String("subject", subjectID))

	ext, err := s.provider.GetSubject(ctx, subjectID)
	if err != nil {
		log.Warn("reconcile: provider lookup failed", zap.Error(err))
		s.metrics.Reconcile("error")
		return
	}
	u, err := s.users.FindBySubjectID(ctx, subjectID)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.metrics.Reconcile("skipped")
		return
	}
	if err != nil {
		log.Warn("reconcile: profile lookup failed", zap.Error(err))
		s.metrics.Reconcile("error")
		return
	}

	patch := reconcilePatch(u, ext)
	if patch.Empty() {
		s.metrics.Reconcile("unchanged")
		return
	}
	err = s.users.Update(ctx, u.ID, patch)
	if errors.Is(err, repository.ErrDuplicateUser) && s.dropCollisions(ctx, log, u, &patch) {
		if patch.Empty() {
			s.metrics.Reconcile("unchanged")
			return
		}
		err = s.users.Update(ctx, u.ID, patch)
	}
	if err != nil {
		log.Warn("reconcile: profile update failed", zap.Error(err))
		s.metrics.Reconcile("error")
		return
	}
	s.metrics.Reconcile("updated")
}

// dropCollisions removes the fields of p that belong to another record and
// reports whether anything was removed. A dropped username also drops the
// display name so the rename is attempted again on the next reconcile.
func (s *IdentitySync) dropCollisions(ctx context.Context, log *zap.Logger, u *models.User, p *models.UserPatch) bool {
	dropped := false
	if p.Username != nil {
		if other, err := s.users.FindByUsername(ctx, *p.Username); err == nil && other.ID != u.ID {
			log.Warn("reconcile: provider display name collides with another username", zap.String("username", *p.Username))
			p.Username = nil
			p.ExternalDisplayName = nil
			dropped = true
		}
	}
	if p.Email != nil {
		if other, err := s.users.FindByEmail(ctx, *p.Email); err == nil && other.ID != u.ID {
			log.Warn("reconcile: provider email belongs to another account", zap.String("email", *p.Email))
			p.Email = nil
			dropped = true
		}
	}
	return dropped
}

// reconcilePatch diffs the provider view against the stored record. The
// username only follows the display name when the display name itself changed
// since the last applied value, so a local rename is not undone.
func reconcilePatch(u *models.User, ext *identity.ExternalIdentity) models.UserPatch {
	var p models.UserPatch

	if name := strings.TrimSpace(ext.DisplayName); name != "" && name != u.ExternalDisplayName {
		p.ExternalDisplayName = &name
		if candidate := strings.ReplaceAll(name, " ", "_"); utils.ValidUsername(candidate) && candidate != u.Username {
			p.Username = &candidate
		}
	}
	if ext.EmailVerified != u.EmailVerified {
		v := ext.EmailVerified
		p.EmailVerified = &v
	}
	if email := repository.NormalizeEmail(ext.Email); email != "" && email != u.Email {
		p.Email = &email
	}
	return p
}

// PushUsername sets the provider display name to the local username. Best effort.
func (s *IdentitySync) PushUsername(ctx context.Context, u *models.User) {
	if s == nil || s.provider == nil || !u.IsLinked() {
		return
	}
	log := s.log.With(zap.String("subject", u.ExternalSubjectID), zap.String("username", u.Username))
	if err := s.provider.UpdateDisplayName(ctx, u.ExternalSubjectID, u.Username); err != nil {
		log.Warn("push username to identity provider failed", zap.Error(err))
		return
	}
	name := u.Username
	if err := s.users.Update(ctx, u.ID, models.UserPatch{ExternalDisplayName: &name}); err != nil {
		log.Warn("record pushed display name failed", zap.Error(err))
		return
	}
	u.ExternalDisplayName = name
}
