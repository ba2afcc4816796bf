// Package mailbox talks to the remote IMAP server. It exposes a narrow Session
// so the rest of the service never touches the wire client directly.
package mailbox

import (
	"context"
	"errors"
	"time"

	"mailcache/models"
)

var (
	// ErrNotFound means the folder or message does not exist on the server.
	ErrNotFound = errors.New("mailbox: not found")
	// ErrPoolTimeout is returned when no session slot frees up in time.
	ErrPoolTimeout = errors.New("mailbox: timed out waiting for a session")
	ErrPoolClosed  = errors.New("mailbox: pool closed")
)

// RawMessage is one fetched message: the full RFC 822 literal plus the
// metadata the server keeps outside of it.
type RawMessage struct {
	UID          models.UID
	Flags        []string
	InternalDate time.Time
	Literal      []byte
}

// Session is a logged-in connection. Close must be called on every path;
// for pooled sessions it hands the connection back instead of logging out.
type Session interface {
	ListFolders(ctx context.Context) ([]string, error)
	// FetchRecent returns up to limit of the newest messages, oldest first.
	FetchRecent(ctx context.Context, folder string, limit int) ([]RawMessage, error)
	FetchByUID(ctx context.Context, folder string, uid models.UID) (RawMessage, error)
	FindByMessageID(ctx context.Context, folder string, id models.MessageID) (RawMessage, error)
	SetFlag(ctx context.Context, folder string, uid models.UID, flag models.Flag, value bool) error
	Move(ctx context.Context, folder string, uid models.UID, target string) error
	// DeleteAll flags every message deleted and expunges; it returns how many were removed.
	DeleteAll(ctx context.Context, folder string) (int, error)
	Append(ctx context.Context, folder string, flags []string, date time.Time, literal []byte) error
	Close() error
}

type Opener interface {
	Open(ctx context.Context) (Session, error)
}
