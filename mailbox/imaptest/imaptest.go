// Package imaptest runs an in-process IMAP server for tests.
package imaptest

import (
	"net"
	"strconv"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/require"
)

const (
	Username = "username"
	Password = "password"
)

// Server is a running memory backed IMAP server. The backend seeds INBOX
// with uid 6 (\Seen, Message-ID <0000000@localhost/>).
type Server struct {
	Host string
	Port int
	// User is the backend account, for seeding mailboxes directly.
	User backend.User
}

// Start serves the memory backend on a loopback port until the test ends.
// Each name in folders is created next to INBOX.
func Start(t testing.TB, folders ...string) *Server {
	t.Helper()

	be := memory.New()
	user, err := be.Login(nil, Username, Password)
	require.NoError(t, err)
	for _, name := range folders {
		require.NoError(t, user.CreateMailbox(name))
	}

	s := server.New(moveBackend{be})
	s.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = s.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &Server{Host: host, Port: port, User: user}
}

// The server always advertises MOVE but the memory backend cannot carry it
// out, so mailboxes are wrapped with a copy, delete, expunge MoveMessages.
type moveBackend struct {
	*memory.Backend
}

func (b moveBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	user, err := b.Backend.Login(connInfo, username, password)
	if err != nil {
		return nil, err
	}
	return moveUser{user}, nil
}

type moveUser struct {
	backend.User
}

func (u moveUser) GetMailbox(name string) (backend.Mailbox, error) {
	mbox, err := u.User.GetMailbox(name)
	if err != nil {
		return nil, err
	}
	return moveMailbox{mbox}, nil
}

type moveMailbox struct {
	backend.Mailbox
}

func (m moveMailbox) MoveMessages(uid bool, seqset *imap.SeqSet, dest string) error {
	if err := m.CopyMessages(uid, seqset, dest); err != nil {
		return err
	}
	if err := m.UpdateMessagesFlags(uid, seqset, imap.AddFlags, []string{imap.DeletedFlag}); err != nil {
		return err
	}
	return m.Expunge()
}
