package utils

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/jaytaylor/html2text"
	"gopkg.in/gomail.v2"

	"mailcache/config"
	"mailcache/models"
)

// Mailer delivers composed messages. *gomail.Dialer satisfies it.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

func NewSMTPMailer(cfg config.SMTPConfig) *gomail.Dialer {
	return gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
}

type Address struct {
	Email string
	Name  string
}

var htmlTag = regexp.MustCompile(`<[a-zA-Z][^>]*>`)

// IsHTML reports whether body looks like markup rather than plain text.
func IsHTML(body string) bool {
	return htmlTag.MatchString(body)
}

// SplitBody returns the plain-text and HTML renditions of a user-supplied body.
// Plain bodies have no HTML rendition.
func SplitBody(body string) models.Body {
	if !IsHTML(body) {
		return models.Body{Text: body}
	}
	text, err := html2text.FromString(body, html2text.Options{TextOnly: true})
	if err != nil {
		text = htmlTag.ReplaceAllString(body, "")
	}
	return models.Body{Text: text, HTML: body}
}

// ComposeEmail builds the MIME message for a draft or an outgoing mail.
func ComposeEmail(from Address, c models.Compose, id models.MessageID, date time.Time) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", from.Email, from.Name)
	if c.To != "" {
		m.SetHeader("To", c.To)
	}
	m.SetHeader("Subject", c.Subject)
	m.SetHeader("Message-ID", id.Header())
	m.SetDateHeader("Date", date)

	body := SplitBody(c.Body)
	m.SetBody("text/plain", body.Text)
	if body.HTML != "" {
		m.AddAlternative("text/html", body.HTML)
	}

	for _, a := range c.Attachments {
		content := a.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m
}

// RenderEmail serializes m into an RFC 822 literal suitable for IMAP APPEND.
func RenderEmail(m *gomail.Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("error rendering email: %w", err)
	}
	return buf.Bytes(), nil
}
