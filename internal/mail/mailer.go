// Package mail sends escalation confirmation emails. Delivery is always
// best-effort from the caller's point of view: failures are logged and must
// never fail the turn that triggered them.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/config"
	"github.com/strengthclub/concierge/internal/models"
)

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender delivers mail over plain SMTP with optional auth.
type SMTPSender struct {
	cfg config.SMTP
}

func NewSMTPSender(cfg config.SMTP) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	if s.cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	from := s.cfg.FromEmail
	msg := strings.Join([]string{
		fmt.Sprintf("From: %s <%s>", s.cfg.FromName, from),
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg)); err != nil {
		return errors.Wrapf(err, "smtp delivery to %s failed", to)
	}
	return nil
}

// Notifier builds and dispatches escalation confirmations through a Sender.
type Notifier struct {
	sender Sender
	brand  string
	from   string
	logger *zap.Logger
}

func NewNotifier(sender Sender, cfg *config.Config, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		brand:  cfg.BrandName,
		from:   cfg.Mail.FromEmail,
		logger: logger,
	}
}

// ConfirmEscalation sends the priority-appropriate confirmation to the
// contact on an escalation record. Failure is logged and swallowed; the
// return value exists only for tests.
func (n *Notifier) ConfirmEscalation(ctx context.Context, rec *models.EscalationRecord) bool {
	if rec.ContactInfo == nil || rec.ContactInfo.Email == "" {
		n.logger.Info("no contact email on escalation, skipping confirmation",
			zap.String("conversation_id", rec.ConversationID))
		return false
	}

	subject, body := n.compose(rec.ContactInfo.Name, rec.Priority)
	if err := n.sender.Send(ctx, rec.ContactInfo.Email, subject, body); err != nil {
		n.logger.Warn("escalation confirmation email failed",
			zap.String("conversation_id", rec.ConversationID),
			zap.String("priority", rec.Priority),
			zap.Error(err))
		return false
	}

	n.logger.Info("escalation confirmation email sent",
		zap.String("conversation_id", rec.ConversationID),
		zap.String("priority", rec.Priority))
	return true
}

func (n *Notifier) compose(name, priority string) (subject, body string) {
	greeting := "there"
	if name != "" {
		greeting = name
	}

	if priority == models.PriorityHigh {
		subject = fmt.Sprintf("Your Request Has Been Received - %s", n.brand)
		body = fmt.Sprintf(`Dear %s,

Thank you for reaching out to %s. We've received your request for immediate assistance, and our team is working to connect you with a coach as soon as possible.

A member of our team will be in touch with you shortly to discuss your needs and help you get started.

If you have any urgent questions in the meantime, please feel free to call us or reply to this email.

Best regards,
The %s Team

---
%s
%s`, greeting, n.brand, n.brand, n.brand, n.from)
		return subject, body
	}

	subject = fmt.Sprintf("Thank You for Your Interest - %s", n.brand)
	body = fmt.Sprintf(`Dear %s,

Thank you for your interest in %s coaching services. We've received your information and our team will be in touch with you soon to discuss how we can help you reach your goals.

We're excited to work with you and look forward to connecting!

Best regards,
The %s Team

---
%s
%s`, greeting, n.brand, n.brand, n.brand, n.from)
	return subject, body
}
