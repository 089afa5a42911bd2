// Package mail renders and delivers the confirmation and password reset
// emails.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"

	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/logctx"
	"github.com/example/contacts/internal/redact"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message addresses one user. Link carries the single-use token.
type Message struct {
	To       string
	Username string
	Link     string
}

type Sender interface {
	SendConfirmation(ctx context.Context, msg Message) error
	SendReset(ctx context.Context, msg Message) error
}

type templateData struct {
	Username string
	Link     string
	AppName  string
}

type renderer struct {
	appName string
	tmpl    *template.Template
}

func newRenderer(appName string) (*renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &renderer{appName: appName, tmpl: tmpl}, nil
}

func (r *renderer) render(name string, msg Message) (string, error) {
	var body bytes.Buffer
	data := templateData{Username: msg.Username, Link: msg.Link, AppName: r.appName}
	if err := r.tmpl.ExecuteTemplate(&body, name, data); err != nil {
		return "", fmt.Errorf("failed to render email template %s: %w", name, err)
	}
	return body.String(), nil
}

// SMTPSender delivers mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	cfg config.MailConfig
	*renderer
	send sendFunc
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	r, err := newRenderer(cfg.FromName)
	if err != nil {
		return nil, err
	}
	return &SMTPSender{cfg: cfg, renderer: r, send: sendMail}, nil
}

func (s *SMTPSender) SendConfirmation(ctx context.Context, msg Message) error {
	return s.deliver(ctx, "confirm_email.html", "Confirm your email", msg)
}

func (s *SMTPSender) SendReset(ctx context.Context, msg Message) error {
	return s.deliver(ctx, "reset_password.html", "Reset your password", msg)
}

func (s *SMTPSender) deliver(ctx context.Context, tmpl, subject string, msg Message) error {
	const op = "mail.SMTPSender.deliver"

	body, err := s.render(tmpl, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	raw := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	raw += fmt.Sprintf("To: %s\r\n", msg.To)
	raw += fmt.Sprintf("Subject: %s\r\n", subject)
	raw += "MIME-version: 1.0;\r\n"
	raw += "Content-Type: text/html; charset=\"UTF-8\";\r\n"
	raw += "\r\n" + body + "\r\n"

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var a smtp.Auth
	if s.cfg.Username != "" {
		a = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := s.send(ctx, addr, a, s.cfg.From, []string{msg.To}, []byte(raw)); err != nil {
		return fmt.Errorf("%s: failed to send email: %w", op, err)
	}

	logctx.From(ctx).Info("email_sent",
		slog.String("template", tmpl),
		slog.String("to", redact.Email(msg.To)),
	)
	return nil
}

// sendMail is smtp.SendMail bound to ctx. The dial and every read or write
// stop when ctx ends.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// LogSender renders mail and writes it to the log instead of sending it.
// It is used when no SMTP relay is configured.
type LogSender struct {
	*renderer
}

func NewLogSender(appName string) (*LogSender, error) {
	r, err := newRenderer(appName)
	if err != nil {
		return nil, err
	}
	return &LogSender{renderer: r}, nil
}

func (l *LogSender) SendConfirmation(ctx context.Context, msg Message) error {
	return l.log(ctx, "confirm_email.html", msg)
}

func (l *LogSender) SendReset(ctx context.Context, msg Message) error {
	return l.log(ctx, "reset_password.html", msg)
}

func (l *LogSender) log(ctx context.Context, tmpl string, msg Message) error {
	if _, err := l.render(tmpl, msg); err != nil {
		return err
	}
	logctx.From(ctx).Info("email_not_sent_no_smtp",
		slog.String("template", tmpl),
		slog.String("to", redact.Email(msg.To)),
		slog.String("link", msg.Link),
	)
	return nil
}

// New picks the SMTP sender when a relay host is configured.
func New(cfg config.MailConfig) (Sender, error) {
	if cfg.Host == "" {
		return NewLogSender(cfg.FromName)
	}
	return NewSMTPSender(cfg)
}
