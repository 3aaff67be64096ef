package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultLookupURL = "https://identitytoolkit.googleapis.com/v1/accounts:lookup"

type lookupReq struct {
	IDToken string `json:"idToken"`
}

type lookupResp struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
		DisplayName   string `json:"displayName"`
		PhotoURL      string `json:"photoUrl"`
	} `json:"users"`
}

// LookupVerifier resolves an ID token through the Identity Toolkit
// accounts:lookup REST endpoint using a public API key.
type LookupVerifier struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewLookupVerifier(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *LookupVerifier {
	if endpoint == "" {
		endpoint = DefaultLookupURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "identity-lookup",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidToken)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &LookupVerifier{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

func (v *LookupVerifier) Verify(ctx context.Context, bearer string) (*ExternalIdentity, error) {
	if v.apiKey == "" {
		return nil, ErrNotConfigured
	}
	out, err := v.cb.Execute(func() (interface{}, error) {
		return v.lookup(ctx, bearer)
	})
	if err != nil {
		return nil, err
	}
	return out.(*ExternalIdentity), nil
}

func (v *LookupVerifier) lookup(ctx context.Context, bearer string) (*ExternalIdentity, error) {
	body, err := json.Marshal(lookupReq{IDToken: bearer})
	if err != nil {
		return nil, err
	}
	u := v.endpoint + "?key=" + url.QueryEscape(v.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrInvalidToken
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity lookup: status %d", resp.StatusCode)
	}

	var out lookupResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode identity lookup: %w", err)
	}
	if len(out.Users) == 0 || out.Users[0].LocalID == "" {
		return nil, ErrInvalidToken
	}
	first := out.Users[0]
	return &ExternalIdentity{
		SubjectID:     first.LocalID,
		Email:         first.Email,
		EmailVerified: first.EmailVerified,
		DisplayName:   first.DisplayName,
		PhotoURL:      first.PhotoURL,
	}, nil
}
