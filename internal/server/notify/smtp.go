package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/emersion/go-message/mail"
)

const dialTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is one of config.TLSImplicit, config.TLSStart or config.TLSNone.
	TLS string
}

// SMTPNotifier composes plain-text messages and delivers them over SMTP.
type SMTPNotifier struct {
	cfg  SMTPConfig
	now  func() time.Time
	send func(ctx context.Context, from, to string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	n := &SMTPNotifier{cfg: cfg, now: time.Now}
	n.send = n.deliver
	return n
}

func (n *SMTPNotifier) SendConfirmation(ctx context.Context, to, archiveRef, subject string, usage models.UsageSummary) error {
	return n.mail(ctx, to, "Archived: "+subject, confirmationBody(archiveRef, subject, usage))
}

func (n *SMTPNotifier) SendWelcome(ctx context.Context, to, vaultID, shareKey string, usage models.UsageSummary) error {
	return n.mail(ctx, to, "Your mail vault is ready", welcomeBody(vaultID, shareKey, usage))
}

func (n *SMTPNotifier) SendQuotaExceeded(ctx context.Context, to, reason string, usage models.UsageSummary) error {
	return n.mail(ctx, to, "Monthly archive limit reached", quotaBody(reason, usage))
}

func (n *SMTPNotifier) SendFailure(ctx context.Context, to, subject, errMsg string, attempts int) error {
	return n.mail(ctx, to, "Archiving failed: "+subject, failureBody(subject, errMsg, attempts))
}

func (n *SMTPNotifier) mail(ctx context.Context, to, subject, body string) error {
	msg, err := n.compose(to, subject, body)
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	if err := n.send(ctx, n.cfg.From, to, msg); err != nil {
		return fmt.Errorf("send message to %s: %w", to, err)
	}
	return nil
}

func (n *SMTPNotifier) compose(to, subject, body string) ([]byte, error) {
	from, err := mail.ParseAddress(n.cfg.From)
	if err != nil {
		return nil, err
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(n.now())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{rcpt})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (n *SMTPNotifier) deliver(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	tlsConfig := &tls.Config{ServerName: n.cfg.Host}

	var conn net.Conn
	var err error
	if n.cfg.TLS == config.TLSImplicit {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &net.Dialer{Timeout: dialTimeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if n.cfg.TLS == config.TLSStart {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
