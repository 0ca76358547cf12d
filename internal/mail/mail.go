// Package mail renders the account emails from embedded HTML templates and delivers them over SMTP.
package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"pharma/backend/internal/logger"
)

// Template names.
const (
	TemplateConfirmAccount = "confirm_account.html"
	TemplateResetPassword  = "reset_password.html"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ErrDelivery marks a failure to hand a message to the relay.
var ErrDelivery = errors.New("mail delivery failed")

// Message is one templated email.
type Message struct {
	To       []string
	Subject  string
	Template string
	Data     map[string]any
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Render executes the message template and returns the HTML body.
func Render(m Message) (string, error) {
	if len(m.To) == 0 {
		return "", errors.New("mail: no recipients")
	}
	t := templates.Lookup(m.Template)
	if t == nil {
		return "", fmt.Errorf("mail: unknown template %q", m.Template)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, m.Data); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", m.Template, err)
	}
	return buf.String(), nil
}

// LogSender renders messages and logs them instead of sending. Used when SMTP is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, m Message) error {
	if _, err := Render(m); err != nil {
		return err
	}
	logger.Info().Str("to", strings.Join(m.To, ",")).Str("template", m.Template).Msg("mail: smtp not configured, message not sent")
	return nil
}
