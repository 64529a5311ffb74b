package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/config"
	"github.com/example/email-dispatcher/internal/envelope"
)

// SMTPOption configures the behaviour of the SMTP client.
type SMTPOption func(*SMTPClient)

// WithSMTPTLSConfig overrides the TLS configuration used when negotiating STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(c *SMTPClient) {
		c.tlsConfig = cfg
	}
}

// WithSMTPDialer swaps the network dialer used to establish SMTP connections.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(c *SMTPClient) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithSMTPAuth supplies a custom SMTP auth strategy. When omitted the client
// uses the credentials from the supplied configuration.
func WithSMTPAuth(auth smtp.Auth) SMTPOption {
	return func(c *SMTPClient) {
		c.auth = auth
	}
}

// WithSMTPClock replaces the clock used for timestamps.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(c *SMTPClient) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSMTPHelloName customises the EHLO/HELO identity presented to the server.
func WithSMTPHelloName(name string) SMTPOption {
	return func(c *SMTPClient) {
		if strings.TrimSpace(name) != "" {
			c.helloName = strings.TrimSpace(name)
		}
	}
}

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPClient implements Client against a real SMTP backend.
type SMTPClient struct {
	logger    zerolog.Logger
	host      string
	port      int
	from      string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
	helloName string
}

// NewSMTPClient constructs a Client backed by an SMTP server.
func NewSMTPClient(cfg config.SMTPConfig, logger zerolog.Logger, opts ...SMTPOption) (*SMTPClient, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp client: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp client: invalid port %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp client: from address is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &SMTPClient{
		logger:    logger,
		host:      cfg.Host,
		port:      cfg.Port,
		from:      strings.TrimSpace(cfg.From),
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		now:       time.Now,
		helloName: "localhost",
	}

	if strings.TrimSpace(cfg.User) != "" {
		c.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	c.tlsConfig = &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Send delivers the envelope through the configured SMTP backend.
func (c *SMTPClient) Send(ctx context.Context, env *envelope.Envelope) (*Receipt, error) {
	if env == nil {
		return nil, errors.New("smtp client: envelope is required")
	}

	rcpt, err := normalizeAddress(env.Recipient)
	if err != nil {
		return nil, fmt.Errorf("smtp client: invalid recipient: %w", err)
	}

	from, err := normalizeAddress(c.from)
	if err != nil {
		return nil, fmt.Errorf("smtp client: invalid from address: %w", err)
	}

	message := c.buildMessage(env)

	if err := c.deliver(ctx, from, rcpt, message); err != nil {
		code, detail := classifySMTPError(err)
		c.logger.Debug().
			Str("message_id", env.ID).
			Int("smtp_code", code).
			Str("smtp_detail", detail).
			Err(err).
			Msg("smtp delivery failed")
		return nil, err
	}

	return &Receipt{
		ProviderID: env.ID,
		Code:       250,
		Detail:     "smtp: message accepted",
		Timestamp:  c.now(),
	}, nil
}

func (c *SMTPClient) deliver(ctx context.Context, from, rcpt string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp client: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	session, err := smtp.NewClient(conn, c.host)
	if err != nil {
		return fmt.Errorf("smtp client: new session: %w", err)
	}
	defer session.Close()

	if err := session.Hello(c.helloName); err != nil {
		return fmt.Errorf("smtp client: hello: %w", err)
	}

	if cfg := c.sessionTLSConfig(); cfg != nil {
		if ok, _ := session.Extension("STARTTLS"); ok {
			if err := session.StartTLS(cfg); err != nil {
				return fmt.Errorf("smtp client: starttls: %w", err)
			}
		}
	}

	if c.auth != nil {
		if ok, _ := session.Extension("AUTH"); ok {
			if err := session.Auth(c.auth); err != nil {
				return fmt.Errorf("smtp client: auth: %w", err)
			}
		}
	}

	if err := session.Mail(from); err != nil {
		return fmt.Errorf("smtp client: mail from: %w", err)
	}
	if err := session.Rcpt(rcpt); err != nil {
		return fmt.Errorf("smtp client: rcpt to %s: %w", rcpt, err)
	}

	writer, err := session.Data()
	if err != nil {
		return fmt.Errorf("smtp client: data: %w", err)
	}

	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp client: data write: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp client: data close: %w", err)
	}

	if err := session.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp client: quit: %w", err)
	}

	return ctx.Err()
}

func (c *SMTPClient) buildMessage(env *envelope.Envelope) []byte {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		if value == "" {
			return
		}
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeaderValue(value))
		buf.WriteString("\r\n")
	}

	writeHeader("From", c.from)
	writeHeader("To", env.Recipient)
	writeHeader("Subject", env.Subject)
	writeHeader("Message-Id", fmt.Sprintf("<%s@%s>", env.ID, c.host))
	writeHeader("Date", c.now().UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")

	buf.WriteString("\r\n")
	buf.WriteString(normalizeBody(env.Body))

	return buf.Bytes()
}

func (c *SMTPClient) sessionTLSConfig() *tls.Config {
	if c.tlsConfig == nil {
		return nil
	}
	cfg := c.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.host
	}
	return cfg
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func normalizeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}

func classifySMTPError(err error) (int, string) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, strings.TrimSpace(tpErr.Msg)
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return 0, "smtp: timeout"
	}

	return 0, ""
}
