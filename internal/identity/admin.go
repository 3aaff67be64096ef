package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// authClient is the subset of the Firebase auth client the admin path uses.
type authClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
}

type AdminConfig struct {
	ProjectID         string
	CredentialsFile   string
	CredentialsBase64 string
}

// AdminVerifier verifies ID tokens with the Firebase Admin SDK. The SDK client
// is built on first use and reused for the life of the process; a failed
// initialization is remembered too.
type AdminVerifier struct {
	newClient func(ctx context.Context) (authClient, error)
	log       *zap.Logger

	once    sync.Once
	client  authClient
	initErr error
}

func NewAdminVerifier(cfg AdminConfig, logger *zap.Logger) *AdminVerifier {
	return &AdminVerifier{
		newClient: func(ctx context.Context) (authClient, error) {
			return newFirebaseAuth(ctx, cfg, logger)
		},
		log: logger,
	}
}

func newFirebaseAuth(ctx context.Context, cfg AdminConfig, logger *zap.Logger) (authClient, error) {
	opts, source, err := credentialOptions(cfg)
	if err != nil {
		return nil, err
	}
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	logger.Info("firebase admin client initialized", zap.String("credentials", source))
	return client, nil
}

// credentialOptions picks the credential source: explicit file, then
// base64-encoded service account JSON, then application default credentials.
func credentialOptions(cfg AdminConfig) ([]option.ClientOption, string, error) {
	switch {
	case cfg.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, "file", nil
	case cfg.CredentialsBase64 != "":
		raw, err := base64.StdEncoding.DecodeString(cfg.CredentialsBase64)
		if err != nil {
			return nil, "", fmt.Errorf("decode service account: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(raw)}, "base64", nil
	default:
		return nil, "default", nil
	}
}

func (v *AdminVerifier) authClient(ctx context.Context) (authClient, error) {
	v.once.Do(func() {
		v.client, v.initErr = v.newClient(context.WithoutCancel(ctx))
		if v.initErr != nil {
			v.log.Error("firebase admin init failed", zap.Error(v.initErr))
		}
	})
	return v.client, v.initErr
}

func (v *AdminVerifier) Verify(ctx context.Context, bearer string) (*ExternalIdentity, error) {
	client, err := v.authClient(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := client.VerifyIDToken(ctx, bearer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	rec, err := client.GetUser(ctx, tok.UID)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", tok.UID, err)
	}
	return fromRecord(rec), nil
}

func (v *AdminVerifier) GetSubject(ctx context.Context, subjectID string) (*ExternalIdentity, error) {
	client, err := v.authClient(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := client.GetUser(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

func (v *AdminVerifier) UpdateDisplayName(ctx context.Context, subjectID, displayName string) error {
	client, err := v.authClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.UpdateUser(ctx, subjectID, (&auth.UserToUpdate{}).DisplayName(displayName))
	return err
}

func fromRecord(rec *auth.UserRecord) *ExternalIdentity {
	id := &ExternalIdentity{EmailVerified: rec.EmailVerified}
	if rec.UserInfo != nil {
		id.SubjectID = rec.UID
		id.Email = rec.Email
		id.DisplayName = rec.DisplayName
		id.PhotoURL = rec.PhotoURL
	}
	return id
}
