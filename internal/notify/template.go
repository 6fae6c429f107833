package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

const TimeLayout = "2006-01-02 15:04:05 (MST)"

// TemplateData is what custom up/down messages can reference, e.g.
// "{{.Name}} is {{.Status}} since {{.Time}}: {{.Error}}".
type TemplateData struct {
	ID     string
	Name   string
	Type   string
	Status monitor.Status
	Time   string
	Error  string
	Value  float64
}

// DefaultMessage is the title and body used when a monitor has no custom template.
// errMsg is appended on its own line when set.
func DefaultMessage(name string, status monitor.Status, at time.Time, errMsg string) notification.Message {
	icon := "✅ Up"
	if status == monitor.StatusDown {
		icon = "🔴 Down"
	}
	title := fmt.Sprintf("[%s] %s", name, icon)
	body := title + "\nTime: " + at.Format(TimeLayout)
	if errMsg = strings.TrimSpace(errMsg); errMsg != "" {
		body += "\nError: " + errMsg
	}
	return notification.Message{Title: title, Body: body}
}

// Compose renders the message for a transition. On a template error the
// default message is returned together with the error.
func Compose(m *monitor.Monitor, status monitor.Status, at time.Time, value float64) (notification.Message, error) {
	var errMsg string
	if status == monitor.StatusDown {
		errMsg = m.RecentError
	}
	msg := DefaultMessage(m.Name, status, at, errMsg)

	custom := m.UpMessage
	if status == monitor.StatusDown {
		custom = m.DownMessage
	}
	if custom == nil || strings.TrimSpace(*custom) == "" {
		return msg, nil
	}

	tpl, err := template.New("message").Option("missingkey=error").Parse(*custom)
	if err != nil {
		return msg, fmt.Errorf("parse %s template: %w", strings.ToLower(string(status)), err)
	}
	var buf bytes.Buffer
	err = tpl.Execute(&buf, TemplateData{
		ID:     m.ID,
		Name:   m.Name,
		Type:   m.Type,
		Status: status,
		Time:   at.Format(TimeLayout),
		Error:  m.RecentError,
		Value:  value,
	})
	if err != nil {
		return msg, fmt.Errorf("render %s template: %w", strings.ToLower(string(status)), err)
	}
	msg.Body = buf.String()
	return msg, nil
}
