package services

import (
	"bytes"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"mailcache/mailbox"
	"mailcache/models"
)

const previewLength = 120

// enmime's own HTML conversion keeps markdown emphasis; text is derived
// from HTML below instead.
var envelopeParser = enmime.NewParser(enmime.DisableTextConversion(true))

// Normalizer turns fetched messages into cache records.
type Normalizer struct {
	// BaseURL prefixes attachment download links, e.g. "https://api.example.com".
	BaseURL string
}

func (n *Normalizer) Normalize(raw mailbox.RawMessage, folder Folder) (models.UniboxEmail, error) {
	env, err := envelopeParser.ReadEnvelope(bytes.NewReader(raw.Literal))
	if err != nil {
		return models.UniboxEmail{}, fmt.Errorf("parse message uid %d: %w", raw.UID, err)
	}

	msg := models.UniboxEmail{
		UID:        raw.UID,
		MessageID:  models.NewMessageID(env.GetHeader("Message-Id")),
		Folder:     folder.Name,
		Subject:    env.GetHeader("Subject"),
		Recipients: []string{},
		Body: models.Body{
			Text: env.Text,
			HTML: env.HTML,
		},
		Attachments: []models.Attachment{},
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		msg.SenderEmail = from[0].Address
		msg.Sender = from[0].Name
	} else {
		msg.SenderEmail = strings.TrimSpace(env.GetHeader("From"))
	}
	if msg.Sender == "" {
		msg.Sender = msg.SenderEmail
	}

	if to, err := env.AddressList("To"); err == nil {
		for _, addr := range to {
			msg.Recipients = append(msg.Recipients, addr.Address)
		}
	}

	if ts, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		ts = ts.UTC()
		msg.Timestamp = &ts
	} else if !raw.InternalDate.IsZero() {
		ts := raw.InternalDate.UTC()
		msg.Timestamp = &ts
	}

	if msg.MessageID == "" {
		msg.MessageID = models.DeriveMessageID(msg.SenderEmail, msg.Subject, msg.Timestamp)
	}

	if msg.Body.Text == "" && msg.Body.HTML != "" {
		msg.Body.Text = htmlToText(msg.Body.HTML)
	}
	msg.Preview = preview(msg.Body.Text)

	for _, flag := range raw.Flags {
		switch {
		case strings.EqualFold(flag, imap.SeenFlag):
			msg.Seen = true
		case strings.EqualFold(flag, imap.FlaggedFlag):
			msg.Flagged = true
		case strings.EqualFold(flag, imap.AnsweredFlag):
			msg.Answered = true
		}
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, p := range parts {
		if p.FileName == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    p.FileName,
			Size:        len(p.Content),
			DownloadURL: n.downloadURL(raw.UID, p.FileName, folder.Key),
		})
	}

	return msg, nil
}

func (n *Normalizer) downloadURL(uid models.UID, filename, folderKey string) string {
	return fmt.Sprintf("%s/emails/attachments/%d/download/%s?folder=%s",
		strings.TrimRight(n.BaseURL, "/"), uid, url.PathEscape(filename), url.QueryEscape(folderKey))
}

func htmlToText(html string) string {
	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		return ""
	}
	return text
}

// preview collapses whitespace and cuts to previewLength runes, marking the cut with "...".
func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:previewLength]), " ") + "..."
}
