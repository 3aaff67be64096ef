package brevo

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"
)

var (
	verificationTmpl = template.Must(template.New("verify").Parse(
		`<p>Hi {{.Name}},</p>
<p>Confirm your email address to finish setting up your account:</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>This link expires in 24 hours. If you did not sign up, ignore this message.</p>`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`<p>Hi {{.Name}},</p>
<p>We received a request to reset your password:</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link expires in 1 hour. If you did not ask for this, you can ignore this message.</p>`))
)

// Mailer renders the verification and reset messages and sends them through Brevo.
type Mailer struct {
	client  *Client
	baseURL string
}

func NewMailer(client *Client, appBaseURL string) *Mailer {
	return &Mailer{client: client, baseURL: strings.TrimRight(appBaseURL, "/")}
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	return m.send(ctx, verificationTmpl, "Verify your email", to, name, m.link("/verify-email", to, token))
}

func (m *Mailer) SendPasswordResetEmail(ctx context.Context, to, name, token string) error {
	return m.send(ctx, resetTmpl, "Reset your password", to, name, m.link("/reset-password", to, token))
}

func (m *Mailer) link(path, email, token string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	return m.baseURL + path + "?" + q.Encode()
}

func (m *Mailer) send(ctx context.Context, tmpl *template.Template, subject, to, name, link string) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Name, Link string }{Name: name, Link: link}); err != nil {
		return err
	}
	return m.client.SendEmail(ctx, to, name, subject, buf.String())
}
