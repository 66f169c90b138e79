package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string // SMTP server host
	Port     int    // SMTP server port (465 for implicit TLS, 587 for STARTTLS)
	Username string // SMTP username (optional)
	Password string // SMTP password (optional)
	From     string // From address
	FromName string // Display name on the From header (optional)
}

// Validate validates the SMTP configuration.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	return nil
}

// SMTPTransport sends email over SMTP with TLS.
type SMTPTransport struct {
	config SMTPConfig
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(config SMTPConfig) (*SMTPTransport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SMTP config: %w", err)
	}
	return &SMTPTransport{config: config}, nil
}

func (s *SMTPTransport) Name() string { return "smtp" }

// Send delivers one plaintext message to a single recipient.
func (s *SMTPTransport) Send(ctx context.Context, to, subject, body string) error {
	msg := s.buildMessage(to, subject, body)
	return s.sendMail(ctx, to, msg)
}

// buildMessage builds a plaintext RFC 5322 message.
func (s *SMTPTransport) buildMessage(to, subject, body string) []byte {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.fromHeader()))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	msg.WriteString("\r\n")

	return []byte(msg.String())
}

func (s *SMTPTransport) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// sendMail sends the message via SMTP.
func (s *SMTPTransport) sendMail(ctx context.Context, to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
	}

	var client *smtp.Client
	var err error

	if s.config.Port == 465 {
		// Implicit TLS (SMTPS)
		client, err = s.connectImplicitTLS(addr, tlsConfig)
	} else {
		// STARTTLS (port 587 or 25)
		client, err = s.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to add recipient %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	return client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (s *SMTPTransport) connectImplicitTLS(addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, s.config.Host)
}

// connectSTARTTLS connects using STARTTLS (port 587 or 25).
func (s *SMTPTransport) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{
		Timeout: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	return client, nil
}
