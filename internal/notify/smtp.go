package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

const TypeSMTP = "smtp"

type smtpPayload struct {
	Hostname  string `json:"hostname"`
	Port      int    `json:"port"`
	Security  bool   `json:"security"`
	IgnoreTLS bool   `json:"ignoreTLS"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	From      string `json:"from"`
	To        string `json:"to"`
	CC        string `json:"cc"`
	BCC       string `json:"bcc"`
}

var mailLayout = template.Must(template.New("mail").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="background-color: #fafafa;">
  <div style="width: 640px; margin: auto; background-color: #fff; border: 1px solid #ddd; padding: 36px;">
    {{range .Lines}}<p>{{.}}</p>{{end}}
  </div>
</body>
</html>
`))

// SMTP sends mail with the server settings stored on each channel.
type SMTP struct {
	timeout    time.Duration
	subjPrefix string
	log        *zap.Logger
}

func NewSMTP(timeout time.Duration, subjPrefix string, log *zap.Logger) *SMTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTP{
		timeout:    timeout,
		subjPrefix: subjPrefix,
		log:        log.With(zap.String("component", "notify.smtp")),
	}
}

func (s *SMTP) Type() string { return TypeSMTP }

func (s *SMTP) Send(ctx context.Context, ch notification.Channel, msg notification.Message) error {
	var p smtpPayload
	if err := ch.Decode(&p); err != nil {
		return err
	}
	if p.Hostname == "" || p.From == "" || p.To == "" {
		return errors.New("smtp: hostname, from and to are required")
	}
	if p.Port == 0 {
		p.Port = 25
		if p.Security {
			p.Port = 465
		}
	}

	subject := strings.TrimSpace(s.subjPrefix + " " + msg.Title)
	body, err := renderMail(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	log := s.log.With(
		zap.String("smtp_host", p.Hostname),
		zap.Int("smtp_port", p.Port),
		zap.Bool("tls", p.Security),
		zap.String("to", p.To),
	)
	if err := s.deliver(ctx, p, subject, body); err != nil {
		log.Error("smtp delivery failed", zap.Error(err))
		return err
	}
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *SMTP) deliver(ctx context.Context, p smtpPayload, subject, body string) error {
	addr := net.JoinHostPort(p.Hostname, strconv.Itoa(p.Port))
	dialer := net.Dialer{Timeout: s.timeout}

	var conn net.Conn
	var err error
	if p.Security {
		conn, err = (&tls.Dialer{NetDialer: &dialer, Config: &tls.Config{ServerName: p.Hostname, InsecureSkipVerify: p.IgnoreTLS}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	c, err := smtp.NewClient(conn, p.Hostname)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() { _ = c.Close() }()

	if !p.Security && !p.IgnoreTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: p.Hostname}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if p.Username != "" || p.Password != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", p.Username, p.Password, p.Hostname)); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}
	if err := c.Mail(p.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	to, cc, bcc := splitAddrs(p.To), splitAddrs(p.CC), splitAddrs(p.BCC)
	for _, rcpt := range append(append(append([]string{}, to...), cc...), bcc...) {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(p.From, to, cc, subject, body)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}

func buildMessage(from string, to, cc []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	if len(cc) > 0 {
		b.WriteString("Cc: " + strings.Join(cc, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n" + body + "\r\n")
	return []byte(b.String())
}

func renderMail(msg notification.Message) (string, error) {
	var b strings.Builder
	err := mailLayout.Execute(&b, struct {
		Title string
		Lines []string
	}{msg.Title, strings.Split(msg.Body, "\n")})
	if err != nil {
		return "", fmt.Errorf("render mail: %w", err)
	}
	return b.String(), nil
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
