package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/boweazy/smartflow/internal/config"
	"github.com/boweazy/smartflow/internal/log"

	"go.uber.org/zap"
)

// EmailNotifier sends plain-text reminders over SMTP with STARTTLS.
type EmailNotifier struct {
	cfg     *config.Config
	logger  *log.Logger
	subject string
}

func NewEmailNotifier(cfg *config.Config, logger *log.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:     cfg,
		logger:  logger,
		subject: "Your upcoming appointment",
	}
}

func (n *EmailNotifier) Send(ctx context.Context, recipient, content string) (string, error) {
	addr := net.JoinHostPort(n.cfg.SMTPHost, fmt.Sprintf("%d", n.cfg.SMTPPort))

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.SMTPFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(content)

	// smtp.SendMail has no context hook; run it in a goroutine and bail on
	// ctx expiry so a stuck server cannot stall the poll cycle.
	done := make(chan error, 1)
	go func() {
		auth := smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)
		done <- smtp.SendMail(addr, auth, n.cfg.SMTPFrom, []string{recipient}, []byte(msg.String()))
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("send email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			n.logger.Error("Failed to send email", zap.Error(err), zap.String("recipient", recipient))
			return "", fmt.Errorf("send email: %w", err)
		}
	}
	return "", nil
}
