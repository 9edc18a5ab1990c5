package email

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/models"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// composeJobFinished builds the notification for a job in a terminal state
func (s *Sender) composeJobFinished(job *models.Job) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{job.Request.NotifyEmail}

	req := job.Request
	body := fmt.Sprintf("Forecast job %s for %s", job.ID, req.TargetValue)
	if f := req.Filters(); f != (models.SeriesFilters{}) {
		body += fmt.Sprintf(" (state %q, county %q, city %q, CBSA %q)", f.State, f.County, f.City, f.CBSA)
	}
	body += "\n\n"

	if job.State == models.JobReady {
		e.Subject = "Forecast ready"
		body += "The forecast table is ready.\n" +
			fmt.Sprintf("Download it with GET /classical/download?job_id=%s\n", job.ID)
	} else {
		e.Subject = "Forecast failed"
		body += fmt.Sprintf("The forecast could not be completed: %s\n", job.Error) +
			fmt.Sprintf("Retry it with POST /classical/resume?job_id=%s\n", job.ID)
	}
	body += fmt.Sprintf("\nFinished at %s UTC\n", job.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	e.Text = []byte(body)
	return e
}

// JobFinished notifies the submitter that a job reached ready or error
func (s *Sender) JobFinished(job *models.Job) error {
	if !s.cfg.SMTPEnabled() || job.Request.NotifyEmail == "" {
		return nil
	}
	e := s.composeJobFinished(job)

	// Send email
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", job.Request.NotifyEmail, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", job.Request.NotifyEmail, e.Subject)
	return nil
}
