// Package mail sends transactional email through Resend.
package mail

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
)

type Resend struct {
	client  *resend.Client
	from    string
	baseURL string
}

func NewResend(apiKey, from, baseURL string) *Resend {
	return &Resend{
		client:  resend.NewClient(apiKey),
		from:    from,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

func (m *Resend) SendConfirmation(ctx context.Context, email, username, token string) error {
	link := m.link("/api/auth/confirmed_email/", token)
	body := fmt.Sprintf(
		`<h1>Hi, %s!</h1><p>Confirm your email address by following the link:</p><p><a href="%s">Confirm email</a></p><p>The link is valid for 24 hours.</p>`,
		html.EscapeString(username), link,
	)

	return m.send(ctx, email, "Confirm your email", body)
}

func (m *Resend) SendPasswordReset(ctx context.Context, email, username, token string) error {
	link := m.link("/api/auth/reset_password/", token)
	body := fmt.Sprintf(
		`<h1>Hi, %s!</h1><p>We received a request to reset your password. Follow the link to choose a new one:</p><p><a href="%s">Reset password</a></p><p>The link expires in a few minutes. If you did not request this, ignore this email.</p>`,
		html.EscapeString(username), link,
	)

	return m.send(ctx, email, "Reset your password", body)
}

func (m *Resend) send(ctx context.Context, to, subject, htmlBody string) error {
	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
	}

	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (m *Resend) link(path, token string) string {
	return m.baseURL + path + url.PathEscape(token)
}
