package notification

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers plain-text mail through an SMTP relay.
type EmailChannel struct {
	cfg      config.SMTPConfig
	sendMail SendMailFunc
	now      func() time.Time
}

// NewEmailChannel creates an email channel. A nil sendMail uses smtp.SendMail.
func NewEmailChannel(cfg config.SMTPConfig, sendMail SendMailFunc) *EmailChannel {
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailChannel{cfg: cfg, sendMail: sendMail, now: time.Now}
}

func (c *EmailChannel) Name() model.Channel { return model.ChannelEmail }

// Deliver mails n to its recipients, or to the owner's address when it names none.
func (c *EmailChannel) Deliver(ctx context.Context, n *model.Notification, prefs model.NotificationPreferences) error {
	if !prefs.EmailEnabled {
		return skip("email disabled in preferences")
	}
	to := n.Recipients
	if len(to) == 0 && prefs.EmailAddress != "" {
		to = []string{prefs.EmailAddress}
	}
	if len(to) == 0 {
		return skip("no email recipients")
	}
	if c.cfg.Host == "" {
		return skip("smtp relay not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port := c.cfg.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(port))
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	if err := c.sendMail(addr, auth, c.cfg.From, to, c.message(n, to)); err != nil {
		return fmt.Errorf("smtp delivery to %d recipients failed: %w", len(to), err)
	}
	return nil
}

func (c *EmailChannel) message(n *model.Notification, to []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(n.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", c.now().UTC().Format(time.RFC1123Z))
	if n.Priority == model.PriorityHigh {
		b.WriteString("X-Priority: 1\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// headerSafe strips line breaks so a title cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

var _ Channel = (*EmailChannel)(nil)
