package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

const TypeResend = "resend"

type resendPayload struct {
	APIKey string `json:"apiKey"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type emailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend delivers mail through the Resend API. A channel may carry its own
// api key and sender, otherwise the service defaults are used.
type Resend struct {
	apiKey string
	from   string
	emails func(apiKey string) emailsAPI
}

func NewResend(apiKey, from string) *Resend {
	return &Resend{
		apiKey: apiKey,
		from:   from,
		emails: func(key string) emailsAPI { return resend.NewClient(key).Emails },
	}
}

func (r *Resend) Type() string { return TypeResend }

func (r *Resend) Send(ctx context.Context, ch notification.Channel, msg notification.Message) error {
	var p resendPayload
	if err := ch.Decode(&p); err != nil {
		return err
	}
	key := firstNonEmpty(p.APIKey, r.apiKey)
	from := firstNonEmpty(p.From, r.from)
	to := splitAddrs(p.To)
	if key == "" || from == "" || len(to) == 0 {
		return errors.New("resend: api key, from and to are required")
	}
	html, err := renderMail(msg)
	if err != nil {
		return err
	}

	_, err = r.emails(key).SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      to,
		Subject: msg.Title,
		Html:    html,
		Text:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
