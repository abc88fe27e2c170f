// Package email delivers outbound lead messages over SMTP. Sends are rate
// limited and transport failures are classified so the task queue knows
// whether a retry can help.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

// Sender implements ports.MessageSender over SMTP via go-mail.
type Sender struct {
	enabled   bool
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	limiter   *rate.Limiter
	log       *logger.Logger
}

// NewSender creates the SMTP sender from config. With email disabled the
// sender logs instead of delivering, which keeps development environments
// from mailing real leads.
func NewSender(cfg config.EmailConfig, log *logger.Logger) (*Sender, error) {
	perMinute := cfg.GetSendRatePerMinute()
	if perMinute < 1 {
		perMinute = 30
	}

	if cfg.GetEmailEnabled() && cfg.GetSMTPHost() == "" {
		return nil, fmt.Errorf("email enabled but smtp host not configured")
	}

	return &Sender{
		enabled:   cfg.GetEmailEnabled(),
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		log:       log,
	}, nil
}

// Send delivers one message. Rate limiting blocks until a slot is free or
// the context expires.
func (s *Sender) Send(ctx context.Context, msg ports.Message) (ports.SendResult, error) {
	if msg.To == "" {
		return ports.SendResult{}, apperr.New(apperr.KindValidation, "message has no recipient")
	}

	if !s.enabled {
		s.log.Info("email disabled, skipping delivery", "to", msg.To, "subject", msg.Subject)
		return ports.SendResult{MessageID: "disabled-" + uuid.NewString()}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return ports.SendResult{}, apperr.Transient("send rate wait aborted", err)
	}

	mail := gomail.NewMsg()
	if err := mail.FromFormat(s.fromName, s.fromEmail); err != nil {
		return ports.SendResult{}, apperr.Wrap(apperr.KindValidation, "invalid from address", err)
	}
	if err := mail.To(msg.To); err != nil {
		return ports.SendResult{}, apperr.Wrap(apperr.KindValidation, "invalid recipient address", err)
	}

	messageID := uuid.NewString() + "@" + s.host
	mail.SetMessageIDWithValue(messageID)
	mail.Subject(msg.Subject)
	html, err := renderMessage(msg.Subject, msg.Body)
	if err != nil {
		return ports.SendResult{}, apperr.Wrap(apperr.KindInternal, "failed to render message", err)
	}
	mail.SetBodyString(gomail.TypeTextHTML, html)
	mail.AddAlternativeString(gomail.TypeTextPlain, msg.Body)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return ports.SendResult{}, apperr.Wrap(apperr.KindInternal, "smtp client setup failed", err)
	}

	if err := client.DialAndSendWithContext(ctx, mail); err != nil {
		// SMTP connectivity problems are worth retrying; the queue backs off.
		return ports.SendResult{}, apperr.Transient("smtp send failed", err)
	}

	return ports.SendResult{MessageID: messageID}, nil
}
