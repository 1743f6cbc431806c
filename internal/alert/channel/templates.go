package channel

import (
	"fmt"
	"time"

	"github.com/matcornic/hermes/v2"
)

// hermesConfig returns the Hermes configuration shared by every alert email.
func hermesConfig() hermes.Hermes {
	return hermes.Hermes{
		Theme: new(hermes.Default),
		Product: hermes.Product{
			Name:      "AutomationHub",
			Link:      "https://automationhub.local",
			Copyright: "AutomationHub alerting",
		},
	}
}

// AlertEmail renders the plain-text and HTML bodies for an alert
// notification email via Hermes, the way the teacher builds bot trade
// alert emails.
func AlertEmail(robotName, alertType, severity, message string, createdAt time.Time) (subject, body, htmlBody string, err error) {
	subject = fmt.Sprintf("[%s] %s: %s", severity, robotName, alertType)

	h := hermesConfig()
	email := hermes.Email{
		Body: hermes.Body{
			Name:  robotName,
			Intros: []string{
				fmt.Sprintf("A %s severity %s alert was raised at %s.", severity, alertType, createdAt.Format(time.RFC3339)),
			},
			Dictionary: []hermes.Entry{
				{Key: "Robot", Value: robotName},
				{Key: "Alert type", Value: alertType},
				{Key: "Severity", Value: severity},
				{Key: "Detail", Value: message},
			},
			Outros: []string{
				"Resolve the underlying condition to auto-clear this alert.",
			},
		},
	}

	body, err = h.GeneratePlainText(email)
	if err != nil {
		return subject, "", "", fmt.Errorf("alert email plain text: %w", err)
	}
	htmlBody, err = h.GenerateHTML(email)
	if err != nil {
		return subject, body, "", fmt.Errorf("alert email html: %w", err)
	}
	return subject, body, htmlBody, nil
}
