package notifiers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/kova98/feedgrep.ingest/models"
)

//go:embed templates/worker_failure.html
var emailTemplates embed.FS

var alertTemplates = template.Must(template.New("emails").ParseFS(emailTemplates, "templates/*.html"))

type Mailer struct {
	smtpHost string
	smtpPort string
	from     string
	password string
}

func NewMailer(smtpHost, smtpPort, from, password string) *Mailer {
	return &Mailer{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		from:     from,
		password: password,
	}
}

// WorkerFailure describes a worker that stopped for good.
type WorkerFailure struct {
	Task       string
	Subreddits []string
	Err        error
	Host       string
	Time       time.Time
}

func (h *Mailer) WorkerFailureEmail(email string, failure WorkerFailure) (models.Email, error) {
	var buf bytes.Buffer
	tmplData := struct {
		Task       string
		Subreddits string
		Error      string
		Host       string
		Time       string
	}{
		Task:       failure.Task,
		Subreddits: strings.Join(failure.Subreddits, ", "),
		Error:      failure.Err.Error(),
		Host:       failure.Host,
		Time:       failure.Time.UTC().Format(time.RFC3339),
	}
	if err := alertTemplates.ExecuteTemplate(&buf, "worker_failure.html", tmplData); err != nil {
		return models.Email{}, fmt.Errorf("render worker failure template: %w", err)
	}

	return models.Email{
		To:      email,
		Subject: fmt.Sprintf("feedgrep ingest: %s worker stopped", failure.Task),
		Body:    buf.String(),
	}, nil
}

func (h *Mailer) Send(mail models.Email) error {
	message := fmt.Sprintf(`From: feedgrep <%s>
To: %s
Subject: %s
MIME-Version: 1.0
Content-Type: text/html; charset=UTF-8

%s`, h.from, mail.To, mail.Subject, mail.Body)

	var auth smtp.Auth
	if h.password != "" {
		auth = smtp.PlainAuth("", h.from, h.password, h.smtpHost)
	}
	addr := fmt.Sprintf("%s:%s", h.smtpHost, h.smtpPort)
	err := smtp.SendMail(addr, auth, h.from, []string{mail.To}, []byte(message))
	if err != nil {
		slog.Error("Failed to send email", "error", err)
		return err
	}

	slog.Info("email sent", "recipient", mail.To, "subject", mail.Subject)
	return nil
}
