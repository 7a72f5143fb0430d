package report

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// ErrEmailNotConfigured is returned when host or recipients are missing.
var ErrEmailNotConfigured = errors.New("email is not configured")

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

// Enabled reports whether enough settings are present to send mail.
func (c EmailConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends reports by email.
type Mailer struct {
	config EmailConfig
	send   SendFunc
}

// NewMailer creates a Mailer using net/smtp.
func NewMailer(config EmailConfig) *Mailer {
	return &Mailer{config: config, send: smtp.SendMail}
}

// WithSender replaces the transport, for tests.
func (m *Mailer) WithSender(send SendFunc) *Mailer {
	m.send = send
	return m
}

// Send emails the report summary with the JSON document and transcript attached.
func (m *Mailer) Send(r *Report, subject string) error {
	if !m.config.Enabled() {
		return ErrEmailNotConfigured
	}

	msg, err := m.buildMessage(r, subject)
	if err != nil {
		return err
	}

	port := m.config.Port
	if port == 0 {
		port = 587
	}
	addr := m.config.Host + ":" + strconv.Itoa(port)

	var auth smtp.Auth
	if m.config.User != "" {
		auth = smtp.PlainAuth("", m.config.User, m.config.Password, m.config.Host)
	}

	from := m.config.From
	if from == "" {
		from = m.config.User
	}

	if err := m.send(addr, auth, from, m.config.To, msg); err != nil {
		return fmt.Errorf("sending report email via %s: %w", addr, err)
	}

	logger.Info("report emailed",
		slog.String("run_id", r.RunID()),
		slog.String("to", strings.Join(m.config.To, ", ")),
	)
	return nil
}

func (m *Mailer) buildMessage(r *Report, subject string) ([]byte, error) {
	doc, err := r.JSON()
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	jsonName, logName := r.Paths("")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(m.config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(r.Summary())); err != nil {
		return nil, err
	}

	if err := attach(mw, jsonName, "application/json", doc); err != nil {
		return nil, err
	}
	if err := attach(mw, logName, "text/plain", []byte(r.Transcript())); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func attach(mw *multipart.Writer, name, contentType string, data []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + "; name=\"" + name + "\""},
		"Content-Disposition":       {"attachment; filename=\"" + name + "\""},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = part.Write([]byte(encoded))
	return err
}
