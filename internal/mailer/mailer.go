// Package mailer sends transactional email over SMTP.
package mailer

import (
	"fmt"
	"io"
	"time"

	gomail "gopkg.in/gomail.v2"
)

// Mailer sends mail through a fixed SMTP relay.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// New creates a mailer for the given relay.
func New(host string, port int, user, pass, from string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
	}
}

// SendSecretKey emails a parent their one-time login key.
func (m *Mailer) SendSecretKey(to, parentName, key string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your Login Secret Key")
	msg.SetBody("text/plain", fmt.Sprintf("Hello %s, your secret key is: %s", parentName, key))
	msg.AddAlternative("text/html", fmt.Sprintf(
		"<p>Hello %s,</p><p>Your one-time secret key is:</p><h2>%s</h2><p>Enter this key in the Telegram bot to complete login.</p>",
		parentName, key))
	return m.dialer.DialAndSend(msg)
}

// SendCheckout emails a parent that their child has checked out.
func (m *Mailer) SendCheckout(to, parentName, studentName string, at time.Time) error {
	formatted := at.Format("Monday, 2 January 2006, 3:04 PM")
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("Your child %s has checked out", studentName))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hello %s,\n\nThis is to inform you that your child, %s, has checked out at %s.\n",
		parentName, studentName, formatted))
	msg.AddAlternative("text/html", fmt.Sprintf(
		"<p>Hello %s,</p><p>This is to inform you that your child, <strong>%s</strong>, has checked out at <strong>%s</strong>.</p>",
		parentName, studentName, formatted))
	return m.dialer.DialAndSend(msg)
}

// SendReport emails the daily check-in report with the spreadsheet attached.
func (m *Mailer) SendReport(to string, day time.Time, attachment []byte) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("Daily Check-in Report - %s", day.Format("02/01/2006")))
	msg.SetBody("text/plain", "Please find attached the daily student check-in/out report.")
	filename := fmt.Sprintf("checkins_%s.xlsx", day.Format("2006-01-02"))
	msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(attachment)
		return err
	}))
	return m.dialer.DialAndSend(msg)
}
