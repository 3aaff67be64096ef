package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fathima-sithara/identity-service/internal/events"
	"github.com/fathima-sithara/identity-service/internal/identity"
	"github.com/fathima-sithara/identity-service/internal/metrics"
	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/fathima-sithara/identity-service/internal/repository"
	"github.com/fathima-sithara/identity-service/internal/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxUsernameAttempts = 1000

type AuthServiceConfig struct {
	Users    repository.UserRepository
	Verifier identity.Verifier
	Sync     *IdentitySync
	Hasher   *utils.PasswordHasher
	Sessions *utils.SessionIssuer
	Mailer   Mailer
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// AuthService runs the registration, login, verification and reset flows.
type AuthService struct {
	users    repository.UserRepository
	verifier identity.Verifier
	sync     *IdentitySync
	hasher   *utils.PasswordHasher
	sessions *utils.SessionIssuer
	mailer   Mailer
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger

	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time
}

func NewAuthService(cfg AuthServiceConfig) *AuthService {
	s := &AuthService{
		users:           cfg.Users,
		verifier:        cfg.Verifier,
		sync:            cfg.Sync,
		hasher:          cfg.Hasher,
		sessions:        cfg.Sessions,
		mailer:          cfg.Mailer,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
		verificationTTL: cfg.VerificationTTL,
		resetTTL:        cfg.ResetTTL,
		now:             time.Now,
	}
	if s.verificationTTL <= 0 {
		s.verificationTTL = utils.VerificationTokenTTL
	}
	if s.resetTTL <= 0 {
		s.resetTTL = utils.PasswordResetTokenTTL
	}
	if s.events == nil {
		s.events = events.NoopPublisher{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Register creates a profile. With a bearer the account is anchored to the
// provider subject and stores no password; without one it is a legacy
// password account and a verification mail is sent.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, bearer string) (resp *models.AuthResponse, err error) {
	defer func() { s.metrics.AuthRequest("register", err) }()

	email := repository.NormalizeEmail(req.Email)
	var ext *identity.ExternalIdentity
	if bearer != "" {
		ext, err = s.verifier.Verify(ctx, bearer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBearer, err)
		}
		if !ext.EmailVerified {
			return nil, ErrEmailNotVerified
		}
		if ext.Email != "" {
			email = repository.NormalizeEmail(ext.Email)
		}
	} else if req.Password == "" {
		return nil, ErrPasswordRequired
	}

	if err := s.ensureAvailable(ctx, req.Username, email); err != nil {
		return nil, err
	}

	u := &models.User{Username: req.Username, Email: email, Level: 1}
	if ext != nil {
		if _, err := s.users.FindBySubjectID(ctx, ext.SubjectID); err == nil {
			return nil, ErrSubjectTaken
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		u.ExternalSubjectID = ext.SubjectID
		u.EmailVerified = true
		u.Avatar = ext.PhotoURL
	} else {
		hash, err := s.hasher.Hash(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	if u.IsLinked() {
		s.sync.PushUsername(ctx, u)
	} else if err := s.issueAndSend(ctx, u, models.VerificationToken); err != nil {
		s.log.Warn("verification email on register failed", zap.String("user_id", u.ID.Hex()), zap.Error(err))
	}
	s.publish(ctx, events.TypeUserRegistered, u, map[string]string{"linked": fmt.Sprint(u.IsLinked())})

	return s.authResponse(u)
}

func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}
	return nil
}

// Login authenticates by password for legacy accounts. Linked accounts must
// present a provider bearer; its presence triggers reconciliation and the
// bearer itself is not verified here.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, bearer string) (resp *models.AuthResponse, err error) {
	defer func() { s.metrics.AuthRequest("login", err) }()

	u, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if u.IsLinked() {
		if bearer == "" {
			return nil, ErrAccountLinked
		}
		s.sync.Reconcile(ctx, u.ExternalSubjectID)
		if u, err = s.users.FindByID(ctx, u.ID); err != nil {
			return nil, err
		}
		return s.authResponse(u)
	}

	if req.Password == "" {
		return nil, ErrPasswordRequired
	}
	ok, err := s.hasher.Compare(u.PasswordHash, req.Password)
	if err != nil {
		s.log.Warn("password compare failed", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return s.authResponse(u)
}

// SocialLogin signs in with a provider bearer, linking an existing profile or
// creating a new one.
func (s *AuthService) SocialLogin(ctx context.Context, req models.SocialLoginRequest, bearer string) (resp *models.AuthResponse, err error) {
	defer func() { s.metrics.AuthRequest("social_login", err) }()

	if bearer == "" {
		return nil, ErrInvalidBearer
	}
	ext, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBearer, err)
	}
	if ext.SubjectID != req.FirebaseUID {
		return nil, ErrSubjectMismatch
	}

	u, err := s.findForLink(ctx, ext)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	if u != nil {
		u, err = s.link(ctx, u, ext, req.PhotoURL)
	} else {
		u, err = s.createSocial(ctx, req, ext)
	}
	if err != nil {
		return nil, err
	}
	return s.authResponse(u)
}

// findForLink looks up by subject, then by email. Email lookup only uses an
// address the provider has verified, never one from the request body.
func (s *AuthService) findForLink(ctx context.Context, ext *identity.ExternalIdentity) (*models.User, error) {
	u, err := s.users.FindBySubjectID(ctx, ext.SubjectID)
	if err == nil || !errors.Is(err, repository.ErrUserNotFound) {
		return u, err
	}
	if ext.Email == "" || !ext.EmailVerified {
		return nil, repository.ErrUserNotFound
	}
	return s.users.FindByEmail(ctx, ext.Email)
}

func (s *AuthService) link(ctx context.Context, u *models.User, ext *identity.ExternalIdentity, photoURL string) (*models.User, error) {
	var patch models.UserPatch
	previous := u.ExternalSubjectID
	anchored := previous != ext.SubjectID
	if anchored {
		// A verified email match moves the anchor to the presenting subject.
		subject := ext.SubjectID
		patch.ExternalSubjectID = &subject
		patch.ClearPassword = true
		if previous != "" {
			empty := ""
			patch.ExternalDisplayName = &empty
		}
	}
	if verified := u.EmailVerified || ext.EmailVerified; verified != u.EmailVerified {
		patch.EmailVerified = &verified
	}
	if photoURL != "" && photoURL != u.Avatar {
		patch.Avatar = &photoURL
	}
	if err := s.users.Update(ctx, u.ID, patch); err != nil {
		return nil, err
	}
	linked, err := s.users.FindByID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if anchored {
		data := map[string]string{"subject": ext.SubjectID}
		if previous != "" {
			s.log.Info("account re-anchored to a new provider subject",
				zap.String("user_id", u.ID.Hex()), zap.String("previous", previous), zap.String("subject", ext.SubjectID))
			data["previous_subject"] = previous
		}
		s.publish(ctx, events.TypeIdentityLinked, linked, data)
	}
	return linked, nil
}

func (s *AuthService) createSocial(ctx context.Context, req models.SocialLoginRequest, ext *identity.ExternalIdentity) (*models.User, error) {
	email, verified := ext.Email, true
	if email == "" {
		email, verified = req.Email, false
	}
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = ext.DisplayName
	}
	avatar := req.PhotoURL
	if avatar == "" {
		avatar = ext.PhotoURL
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		username, err := s.availableUsername(ctx, utils.BaseUsername(displayName, email))
		if err != nil {
			return nil, err
		}
		u := &models.User{
			Username:          username,
			Email:             email,
			ExternalSubjectID: ext.SubjectID,
			EmailVerified:     verified,
			Avatar:            avatar,
			Level:             1,
		}
		lastErr = s.users.Create(ctx, u)
		if lastErr == nil {
			s.sync.PushUsername(ctx, u)
			s.publish(ctx, events.TypeUserRegistered, u, map[string]string{"linked": "true"})
			return u, nil
		}
		if !errors.Is(lastErr, repository.ErrDuplicateUser) {
			return nil, lastErr
		}
		if _, err := s.users.FindByEmail(ctx, email); err == nil {
			return nil, ErrEmailTaken
		}
	}
	return nil, lastErr
}

// availableUsername returns base, or base with the smallest numeric suffix
// that is not taken.
func (s *AuthService) availableUsername(ctx context.Context, base string) (string, error) {
	for n := 0; n < maxUsernameAttempts; n++ {
		candidate := utils.WithSuffix(base, n)
		_, err := s.users.FindByUsername(ctx, candidate)
		if errors.Is(err, repository.ErrUserNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free username for %q", base)
}

// VerifyEmail marks an email verified, either from a provider bearer whose
// email the provider has verified or from a one-time token.
func (s *AuthService) VerifyEmail(ctx context.Context, req models.VerifyEmailRequest, bearer string) (u *models.User, err error) {
	defer func() { s.metrics.AuthRequest("verify_email", err) }()

	if bearer != "" {
		return s.verifyEmailWithBearer(ctx, bearer)
	}
	if req.Token == "" || req.Email == "" {
		return nil, ErrInvalidToken
	}
	u, err = s.users.ConsumeVerificationToken(ctx, req.Email, utils.HashSecret(req.Token), s.now())
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeEmailVerified, u, map[string]string{"method": "token"})
	return u, nil
}

func (s *AuthService) verifyEmailWithBearer(ctx context.Context, bearer string) (*models.User, error) {
	ext, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBearer, err)
	}
	if !ext.EmailVerified {
		return nil, ErrProviderUnverified
	}
	u, err := s.users.FindBySubjectID(ctx, ext.SubjectID)
	if errors.Is(err, repository.ErrUserNotFound) && ext.Email != "" {
		u, err = s.users.FindByEmail(ctx, ext.Email)
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	verified := true
	if err := s.users.Update(ctx, u.ID, models.UserPatch{EmailVerified: &verified, ClearVerificationToken: true}); err != nil {
		return nil, err
	}
	if u, err = s.users.FindByID(ctx, u.ID); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeEmailVerified, u, map[string]string{"method": "provider"})
	return u, nil
}

// ResendVerification issues a fresh 24h verification token. Unknown emails
// succeed silently.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.AuthRequest("resend_verification", err) }()

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}
	return s.issueAndSend(ctx, u, models.VerificationToken)
}

// ForgotPassword issues a 1h reset token to legacy accounts. Unknown emails and
// provider-linked accounts succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.AuthRequest("forgot_password", err) }()

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.IsLinked() {
		s.log.Info("password reset requested for linked account", zap.String("user_id", u.ID.Hex()))
		return nil
	}
	return s.issueAndSend(ctx, u, models.PasswordResetToken)
}

// ResetPassword consumes a reset token and stores the new password in the same write.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (err error) {
	defer func() { s.metrics.AuthRequest("reset_password", err) }()

	if req.Token == "" || req.Email == "" {
		return ErrInvalidToken
	}
	if req.NewPassword == "" {
		return ErrPasswordRequired
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.ConsumeResetToken(ctx, req.Email, utils.HashSecret(req.Token), hash, s.now())
	if errors.Is(err, repository.ErrTokenNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	s.publish(ctx, events.TypePasswordReset, u, nil)
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID primitive.ObjectID, req models.ChangePasswordRequest) (err error) {
	defer func() { s.metrics.AuthRequest("change_password", err) }()

	u, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsLinked() {
		return ErrAccountLinked
	}
	ok, err := s.hasher.Compare(u.PasswordHash, req.CurrentPassword)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.Update(ctx, u.ID, models.UserPatch{PasswordHash: &hash}); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrAccountLinked
		}
		return err
	}
	return nil
}

func (s *AuthService) Me(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UpdateUsername renames the user locally and, for linked accounts, pushes the
// new name to the provider as its display name.
func (s *AuthService) UpdateUsername(ctx context.Context, userID primitive.ObjectID, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if !utils.ValidUsername(username) {
		return nil, fmt.Errorf("%w: username must be 3-30 letters, digits or underscores", ErrInvalidInput)
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Username == username {
		return u, nil
	}
	if err := s.users.Update(ctx, u.ID, models.UserPatch{Username: &username}); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	u.Username = username
	s.sync.PushUsername(ctx, u)
	return s.Me(ctx, userID)
}

// Authenticate resolves a session token to a user that still exists.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	id, err := primitive.ObjectIDFromHex(claims.ID)
	if err != nil {
		return nil, ErrInvalidSession
	}
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidSession
	}
	return u, err
}

// issueAndSend stores a new token of kind, replacing any previous one, and
// mails it. A failed delivery withdraws the token.
func (s *AuthService) issueAndSend(ctx context.Context, u *models.User, kind models.TokenKind) error {
	ttl := s.verificationTTL
	if kind == models.PasswordResetToken {
		ttl = s.resetTTL
	}
	secret, err := utils.IssueSecret(s.now(), ttl)
	if err != nil {
		return err
	}
	if err := s.users.SetToken(ctx, u.ID, kind, secret.Hash, secret.Expiry); err != nil {
		return err
	}
	s.metrics.TokenIssued(kind.String())

	if kind == models.PasswordResetToken {
		err = s.mailer.SendPasswordResetEmail(ctx, u.Email, u.Username, secret.Plaintext)
	} else {
		err = s.mailer.SendVerificationEmail(ctx, u.Email, u.Username, secret.Plaintext)
	}
	s.metrics.Mail(err)
	if err != nil {
		if cerr := s.users.ClearToken(ctx, u.ID, kind); cerr != nil {
			s.log.Error("withdraw undelivered token failed", zap.String("user_id", u.ID.Hex()), zap.Error(cerr))
		}
		s.log.Warn("token delivery failed", zap.String("kind", kind.String()), zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return ErrDeliveryFailed
	}
	return nil
}

func (s *AuthService) authResponse(u *models.User) (*models.AuthResponse, error) {
	token, _, err := s.sessions.Issue(u.ID.Hex(), u.Username, u.Email)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &models.AuthResponse{User: u, Token: token}, nil
}

func (s *AuthService) publish(ctx context.Context, eventType string, u *models.User, data map[string]string) {
	if err := s.events.Publish(ctx, events.New(eventType, u.ID.Hex(), data)); err != nil {
		s.log.Warn("publish event failed", zap.String("type", eventType), zap.String("user_id", u.ID.Hex()), zap.Error(err))
	}
}
