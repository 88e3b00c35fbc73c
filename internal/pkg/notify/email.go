package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"taskmanager/internal/config"
	"taskmanager/internal/model"

	"gopkg.in/gomail.v2"
)

// ErrNotConfigured 表示 SMTP 配置不完整。
var ErrNotConfigured = errors.New("email config missing")

// Sender delivers a composed message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 通过 SMTP 发送邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	sender Sender
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		logger: logger,
	}
}

// Configured 判断 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n != nil && n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// SendWelcome 发送注册欢迎邮件。
func (n *EmailNotifier) SendWelcome(ctx context.Context, user *model.User) error {
	if !n.Configured() {
		return ErrNotConfigured
	}
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", "Welcome to Task Manager")
	m.SetBody("text/html", buildWelcomeBody(user.Name))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("welcome email sent", slog.String("to", user.Email))
	return nil
}

func buildWelcomeBody(name string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome, %s!</h2>
    <p>Your Task Manager account is ready. Sign in to start organising your tasks.</p>
  </div>
</body>
</html>`, html.EscapeString(name))
}

var _ Notifier = (*EmailNotifier)(nil)
