package services

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcache/mailbox"
	"mailcache/models"
)

var inbox = Folder{Key: "inbox", Name: "INBOX"}

func TestNormalizePlainMessage(t *testing.T) {
	n := &Normalizer{BaseURL: "https://api.example.com"}
	raw := mailbox.RawMessage{
		UID:   42,
		Flags: []string{imap.SeenFlag, imap.AnsweredFlag},
		Literal: []byte(fixture{
			id:      "abc@example.com",
			to:      "Me <me@example.com>, other@example.com",
			subject: "Quarterly numbers",
			date:    "Tue, 02 Jan 2024 15:04:05 +0200",
			text:    "Numbers   attached.\r\n\r\nThanks",
		}.literal()),
	}

	msg, err := n.Normalize(raw, inbox)
	require.NoError(t, err)

	assert.Equal(t, models.UID(42), msg.UID)
	assert.Equal(t, models.MessageID("abc@example.com"), msg.MessageID)
	assert.Equal(t, "INBOX", msg.Folder)
	assert.Equal(t, "Alice", msg.Sender)
	assert.Equal(t, "alice@example.com", msg.SenderEmail)
	assert.Equal(t, "Quarterly numbers", msg.Subject)
	assert.Equal(t, []string{"me@example.com", "other@example.com"}, msg.Recipients)
	require.NotNil(t, msg.Timestamp)
	assert.True(t, msg.Timestamp.Equal(time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC)))
	assert.True(t, msg.Seen)
	assert.True(t, msg.Answered)
	assert.False(t, msg.Flagged)
	assert.Equal(t, "Numbers attached. Thanks", msg.Preview)
	assert.Empty(t, msg.Body.HTML)
	assert.Empty(t, msg.Attachments)
}

func TestNormalizeHTMLOnlyPreview(t *testing.T) {
	n := &Normalizer{}
	long := strings.Repeat("word ", 60)
	raw := mailbox.RawMessage{
		UID:     1,
		Literal: []byte(fixture{id: "h@x", subject: "html", html: "<html><body><p><b>" + long + "</b></p></body></html>"}.literal()),
	}

	msg, err := n.Normalize(raw, inbox)
	require.NoError(t, err)

	assert.NotContains(t, msg.Preview, "<")
	assert.NotContains(t, msg.Preview, "*", "emphasis markup must not leak into the preview")
	assert.True(t, strings.HasSuffix(msg.Preview, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(msg.Preview), 123)
	assert.True(t, strings.HasPrefix(msg.Preview, "word word"))
	assert.NotEmpty(t, msg.Body.Text)
	assert.NotContains(t, msg.Body.Text, "*")
	assert.Contains(t, msg.Body.HTML, "<b>")
}

func TestNormalizeSenderWithoutDisplayName(t *testing.T) {
	n := &Normalizer{}
	raw := mailbox.RawMessage{Literal: []byte(fixture{from: "bob@example.com", subject: "x", text: "x"}.literal())}

	msg, err := n.Normalize(raw, inbox)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", msg.Sender)
	assert.Equal(t, "bob@example.com", msg.SenderEmail)
}

func TestNormalizeDerivesMissingMessageID(t *testing.T) {
	n := &Normalizer{}
	literal := []byte(fixture{from: "bob@example.com", subject: "no id", date: "Tue, 02 Jan 2024 15:04:05 +0200", text: "x"}.literal())

	msg, err := n.Normalize(mailbox.RawMessage{UID: 3, Literal: literal}, inbox)
	require.NoError(t, err)
	assert.True(t, msg.MessageID.Derived())

	// same message in another folder under another uid keeps its id
	moved, err := n.Normalize(mailbox.RawMessage{UID: 9, Literal: literal}, Folder{Key: "archive", Name: "Archive"})
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, moved.MessageID)

	withID, err := n.Normalize(mailbox.RawMessage{Literal: []byte(fixture{id: "real@x", subject: "x", text: "x"}.literal())}, inbox)
	require.NoError(t, err)
	assert.Equal(t, models.MessageID("real@x"), withID.MessageID)
}

func TestNormalizeTimestampFallbacks(t *testing.T) {
	n := &Normalizer{}
	internal := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)

	msg, err := n.Normalize(mailbox.RawMessage{
		InternalDate: internal,
		Literal:      []byte(fixture{subject: "x", date: "not a date", text: "x"}.literal()),
	}, inbox)
	require.NoError(t, err)
	require.NotNil(t, msg.Timestamp)
	assert.True(t, msg.Timestamp.Equal(internal))

	msg, err = n.Normalize(mailbox.RawMessage{Literal: []byte(fixture{subject: "x", text: "x"}.literal())}, inbox)
	require.NoError(t, err)
	assert.Nil(t, msg.Timestamp)
}

func TestNormalizeAttachmentMetadata(t *testing.T) {
	n := &Normalizer{BaseURL: "https://api.example.com/"}

	msg, err := n.Normalize(mailbox.RawMessage{UID: 5, Literal: []byte(attachmentLiteral)}, inbox)
	require.NoError(t, err)

	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "notes.txt", att.Filename)
	assert.Equal(t, len("hello notes"), att.Size)
	assert.Equal(t, "https://api.example.com/emails/attachments/5/download/notes.txt?folder=inbox", att.DownloadURL)
	assert.Equal(t, "see attached", msg.Preview)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "", preview(""))
	assert.Equal(t, "a b", preview("  a\n\tb  "))

	exact := strings.Repeat("x", previewLength)
	assert.Equal(t, exact, preview(exact))

	long := strings.Repeat("é", previewLength+5)
	got := preview(long)
	assert.Equal(t, previewLength+3, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
