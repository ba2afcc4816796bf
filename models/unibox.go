package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// UID is the provider-assigned message number. Unique inside one folder only,
// and reassigned when a message moves. Zero means "not known yet".
type UID uint32

// MessageID is the Message-ID header value without angle brackets. It survives
// moves and is the key every cache patch matches on.
type MessageID string

// NewMessageID normalizes a raw header value ("<abc@host>" -> "abc@host").
func NewMessageID(raw string) MessageID {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.TrimSuffix(raw, ">")
	return MessageID(strings.TrimSpace(raw))
}

// derivedIDDomain marks ids made up for messages without a Message-ID header.
const derivedIDDomain = "mailcache.invalid"

// DeriveMessageID builds a stand-in id from fields a move does not change.
// Two messages with the same sender, subject and date share one id.
func DeriveMessageID(senderEmail, subject string, date *time.Time) MessageID {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(senderEmail))))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(subject)))
	h.Write([]byte{0})
	if date != nil {
		h.Write([]byte(date.UTC().Format(time.RFC3339)))
	}
	return MessageID(hex.EncodeToString(h.Sum(nil))[:32] + "@" + derivedIDDomain)
}

// Derived reports whether the id came from DeriveMessageID, in which case
// no server side header carries it.
func (id MessageID) Derived() bool {
	return strings.HasSuffix(string(id), "@"+derivedIDDomain)
}

// Header renders the id the way it appears in a Message-ID header.
func (id MessageID) Header() string {
	return "<" + string(id) + ">"
}

type Flag string

const (
	FlagSeen     Flag = "seen"
	FlagFlagged  Flag = "flagged"
	FlagAnswered Flag = "answered"
)

// UniboxEmail is the cached, JSON-serialized view of one message.
type UniboxEmail struct {
	UID         UID          `json:"uid"`
	MessageID   MessageID    `json:"messageId"`
	Folder      string       `json:"folder"`
	Sender      string       `json:"sender"`
	SenderEmail string       `json:"senderEmail"`
	Subject     string       `json:"subject"`
	Preview     string       `json:"preview"`
	Timestamp   *time.Time   `json:"timestamp"`
	Seen        bool         `json:"seen"`
	Flagged     bool         `json:"flagged"`
	Answered    bool         `json:"answered"`
	Recipients  []string     `json:"recipients"`
	Body        Body         `json:"body"`
	Attachments []Attachment `json:"attachments"`
	Unconfirmed bool         `json:"unconfirmed,omitempty"` // written before the server confirmed it
}

type Body struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Attachment is metadata only; content is fetched on demand.
type Attachment struct {
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

// SetFlag overwrites exactly one flag field.
func (e *UniboxEmail) SetFlag(flag Flag, value bool) bool {
	switch flag {
	case FlagSeen:
		e.Seen = value
	case FlagFlagged:
		e.Flagged = value
	case FlagAnswered:
		e.Answered = value
	default:
		return false
	}
	return true
}

// Newer reports whether a sorts before b: newest first, missing timestamps last.
func Newer(a, b UniboxEmail) int {
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return 0
	case a.Timestamp == nil:
		return 1
	case b.Timestamp == nil:
		return -1
	}
	return b.Timestamp.Compare(*a.Timestamp)
}
