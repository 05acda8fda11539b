// Package notify delivers alarm messages to operators, by plain email
// and by opening ServiceNow incidents.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// EmailSender sends alarm messages through an unauthenticated relay,
// the usual setup on lab networks.
type EmailSender struct {
	smtpHost   string
	sender     string
	recipients []string
	logger     *zap.Logger
}

// NewEmailSender builds a sender. smtpHost is host:port.
func NewEmailSender(smtpHost, sender string, recipients []string, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		smtpHost:   smtpHost,
		sender:     sender,
		recipients: recipients,
		logger:     logger,
	}
}

// Send delivers one message to every configured recipient.
func (e *EmailSender) Send(subject, body string) error {
	msg := strings.Join([]string{
		"From: " + e.sender,
		"To: " + strings.Join(e.recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(e.smtpHost, nil, e.sender, e.recipients, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail via %s: %w", e.smtpHost, err)
	}
	e.logger.Info("alarm mail sent",
		zap.String("subject", subject),
		zap.Strings("recipients", e.recipients))
	return nil
}
