package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const brevoAPIURL = "https://api.brevo.com/v3/smtp/email"

var ErrNotConfigured = errors.New("brevo client not configured")

// Client represents the Brevo (formerly Sendinblue) transactional email API client.
type Client struct {
	apiKey     string
	fromEmail  string
	fromName   string
	endpoint   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	configured bool
}

func NewClient(apiKey, fromEmail, fromName string, logger *zap.Logger) *Client {
	c := &Client{
		endpoint:   brevoAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "brevo",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	}
	if apiKey != "" && fromEmail != "" {
		c.apiKey = apiKey
		c.fromEmail = fromEmail
		c.fromName = fromName
		c.configured = true
	}
	return c
}

func (c *Client) IsConfigured() bool {
	return c.configured
}

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendEmailReq struct {
	Sender      contact   `json:"sender"`
	To          []contact `json:"to"`
	Subject     string    `json:"subject"`
	HtmlContent string    `json:"htmlContent"`
}

// SendEmail delivers one HTML message. Calls fail fast while the breaker is open.
func (c *Client) SendEmail(ctx context.Context, toEmail, toName, subject, html string) error {
	if !c.configured {
		return ErrNotConfigured
	}
	if toEmail == "" || subject == "" || html == "" {
		return errors.New("toEmail, subject, and html content cannot be empty")
	}

	body, err := json.Marshal(sendEmailReq{
		Sender:      contact{Email: c.fromEmail, Name: c.fromName},
		To:          []contact{{Email: toEmail, Name: toName}},
		Subject:     subject,
		HtmlContent: html,
	})
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("api-key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("brevo send email request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("brevo API error: status %d, body: %s", resp.StatusCode, bytes.TrimSpace(msg))
		}
		return nil, nil
	})
	return err
}
