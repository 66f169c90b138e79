package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// detailLineLimit caps how many alert detail lines appear in a body; the
// remainder collapses into a "+N more" suffix.
const detailLineLimit = 10

// Templates holds the parsed email templates.
type Templates struct {
	notice *template.Template
}

// noticeData is the rendering input for the threat notice body.
type noticeData struct {
	CustomerName string
	ThreatIP     string
	AlertCount   int
	Countries    string
	FirstSeen    string
	LastSeen     string
	Alerts       []noticeAlert
	More         int
}

// noticeAlert is one alert detail line in the notice body.
type noticeAlert struct {
	Index           int
	Timestamp       string
	Direction       string
	TargetIP        string
	Protocol        string
	DestinationPort int
	Hostname        string
}

// LoadTemplates parses the embedded email templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"plural": func(n int, word string) string {
			if n == 1 {
				return word
			}
			return word + "s"
		},
	}

	notice, err := template.New("notice.txt").Funcs(funcs).ParseFS(templateFS, "templates/notice.txt")
	if err != nil {
		return nil, fmt.Errorf("parse notice template: %w", err)
	}

	return &Templates{notice: notice}, nil
}

// RenderSubject builds the subject line for a threat notification.
func (t *Templates) RenderSubject(n *models.Notification) string {
	word := "threats"
	if n.AlertCount == 1 {
		word = "threat"
	}
	return fmt.Sprintf("Security Alert: %d %s detected from %s (%s)",
		n.AlertCount, word, n.ThreatIP, countriesOrUnknown(n.Countries))
}

// RenderBody builds the plaintext body for a threat notification. alerts
// are expected most recent first; everything past the detail line limit is
// summarized as a count.
func (t *Templates) RenderBody(n *models.Notification, customer *models.Customer, alerts []*models.Alert) (string, error) {
	name := customer.Name
	if name == "" {
		name = "Valued Customer"
	}

	data := noticeData{
		CustomerName: name,
		ThreatIP:     n.ThreatIP,
		AlertCount:   n.AlertCount,
		Countries:    countriesOrUnknown(n.Countries),
		FirstSeen:    formatTime(n.FirstSeen),
		LastSeen:     formatTime(n.LastSeen),
	}

	detail := alerts
	if len(detail) > detailLineLimit {
		detail = detail[:detailLineLimit]
		data.More = len(alerts) - detailLineLimit
	}
	for i, alert := range detail {
		protocol := strings.ToUpper(alert.Protocol)
		if protocol == "" {
			protocol = "Unknown"
		}
		data.Alerts = append(data.Alerts, noticeAlert{
			Index:           i + 1,
			Timestamp:       formatTime(alert.Timestamp),
			Direction:       string(alert.Direction),
			TargetIP:        alert.TargetIP,
			Protocol:        protocol,
			DestinationPort: alert.DestinationPort,
			Hostname:        alert.Hostname,
		})
	}

	var buf bytes.Buffer
	if err := t.notice.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render notice body: %w", err)
	}
	return buf.String(), nil
}

func countriesOrUnknown(countries []string) string {
	if len(countries) == 0 {
		return "Unknown"
	}
	return strings.Join(countries, ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
