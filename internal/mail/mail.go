// Package mail delivers one-time codes over SMTP. In dev mode the codes
// are logged instead of sent so the flows work without a mail relay.
package mail

import (
	"fmt"
	"net/smtp"

	"github.com/gatekey/backend/internal/config"
	"github.com/gatekey/backend/pkg/logger"
)

type Mailer struct {
	cfg config.SMTPConfig
}

func New(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) SendVerificationCode(email, code string) error {
	return m.send(email, "Verify your email", fmt.Sprintf("Your verification code is %s", code))
}

func (m *Mailer) SendPasswordResetCode(email, code string) error {
	return m.send(email, "Password reset code", fmt.Sprintf("Your reset code is %s", code))
}

func (m *Mailer) send(to, subject, body string) error {
	if m.cfg.DevMode {
		logger.Info("mail.dev_mode", map[string]interface{}{
			"to":      to,
			"subject": subject,
			"body":    body,
		})
		return nil
	}

	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, to, subject, body)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := smtp.SendMail(addr, nil, m.cfg.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
