package services

import (
	"context"
	"fmt"
	"net/smtp"

	"depthguard/models"

	"github.com/sirupsen/logrus"
)

// EmailChannel delivers emergency notifications over SMTP. It implements
// interfaces.NotificationChannel for the "email" method.
type EmailChannel struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewEmailChannel(host, port, username, password, from string) *EmailChannel {
	return &EmailChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (ec *EmailChannel) Send(ctx context.Context, contact models.EmergencyContact, method, message string) error {
	if contact.Email == "" {
		return fmt.Errorf("contact %s has no email address", contact.ID)
	}

	subject := "EMERGENCY NOTIFICATION"
	body := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		contact.Email, subject, message)

	auth := smtp.PlainAuth("", ec.username, ec.password, ec.host)
	addr := fmt.Sprintf("%s:%s", ec.host, ec.port)
	if err := smtp.SendMail(addr, auth, ec.from, []string{contact.Email}, []byte(body)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", contact.Name, err)
	}

	logrus.WithField("contact", contact.Name).Info("email dispatched")
	return nil
}
