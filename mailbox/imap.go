package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"mailcache/models"
)

// IMAPDialer opens a fresh, logged-in connection on every Open.
type IMAPDialer struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string // SSL, TLS, STARTTLS or anything else for plain
	Timeout    time.Duration
	TLSConfig  *tls.Config
	Logger     *logrus.Entry
}

func (d *IMAPDialer) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	dialer := &net.Dialer{Timeout: d.Timeout}
	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: d.Host}
	}

	var (
		c   *client.Client
		err error
	)
	switch strings.ToUpper(d.Encryption) {
	case "SSL", "TLS":
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	case "STARTTLS":
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			if err = c.StartTLS(tlsConfig); err != nil {
				_ = c.Terminate()
			}
		}
	default:
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}
	c.Timeout = d.Timeout

	if err := c.Login(d.Username, d.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &imapSession{c: c, logger: logger}, nil
}

type imapSession struct {
	c        *client.Client
	logger   *logrus.Entry
	selected string
	broken   bool
}

// Broken reports whether the connection is no longer usable.
func (s *imapSession) Broken() bool {
	return s.broken || s.c.State() == imap.LogoutState
}

// do runs fn, aborting the connection if ctx ends first. The wire client has
// no notion of contexts, so cancellation means tearing the connection down.
func (s *imapSession) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() == nil {
		return s.check(fn())
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return s.check(err)
	case <-ctx.Done():
		s.broken = true
		_ = s.c.Terminate()
		<-done
		return ctx.Err()
	}
}

func (s *imapSession) check(err error) error {
	if err != nil && s.c.State() == imap.LogoutState {
		s.broken = true
	}
	return err
}

func (s *imapSession) selectFolder(folder string) (*imap.MailboxStatus, error) {
	mbox, err := s.c.Select(folder, false)
	if err != nil {
		s.selected = ""
		if s.c.State() == imap.LogoutState {
			return nil, fmt.Errorf("select %q: %w", folder, err)
		}
		// A tagged NO on SELECT means the folder is not there.
		return nil, fmt.Errorf("%w: folder %q (%v)", ErrNotFound, folder, err)
	}
	s.selected = folder
	return mbox, nil
}

func (s *imapSession) ListFolders(ctx context.Context) ([]string, error) {
	var names []string
	err := s.do(ctx, func() error {
		ch := make(chan *imap.MailboxInfo, 16)
		done := make(chan error, 1)
		go func() { done <- s.c.List("", "*", ch) }()
		for m := range ch {
			if hasAttr(m.Attributes, imap.NoSelectAttr) {
				continue
			}
			names = append(names, m.Name)
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return names, nil
}

func (s *imapSession) FetchRecent(ctx context.Context, folder string, limit int) ([]RawMessage, error) {
	var out []RawMessage
	err := s.do(ctx, func() error {
		mbox, err := s.selectFolder(folder)
		if err != nil {
			return err
		}
		if mbox.Messages == 0 || limit <= 0 {
			return nil
		}
		from := uint32(1)
		if mbox.Messages > uint32(limit) {
			from = mbox.Messages - uint32(limit) + 1
		}
		seqset := new(imap.SeqSet)
		seqset.AddRange(from, mbox.Messages)

		out, err = s.fetch(seqset, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *imapSession) FetchByUID(ctx context.Context, folder string, uid models.UID) (RawMessage, error) {
	var out []RawMessage
	err := s.do(ctx, func() error {
		if _, err := s.selectFolder(folder); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uint32(uid))
		var err error
		out, err = s.fetch(seqset, true)
		return err
	})
	if err != nil {
		return RawMessage{}, err
	}
	if len(out) == 0 {
		return RawMessage{}, fmt.Errorf("%w: uid %d in %q", ErrNotFound, uid, folder)
	}
	return out[0], nil
}

func (s *imapSession) FindByMessageID(ctx context.Context, folder string, id models.MessageID) (RawMessage, error) {
	if id == "" {
		return RawMessage{}, fmt.Errorf("%w: empty message id", ErrNotFound)
	}
	var found *RawMessage
	err := s.do(ctx, func() error {
		if _, err := s.selectFolder(folder); err != nil {
			return err
		}
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", string(id))
		uids, err := s.c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("search %q: %w", folder, err)
		}
		if len(uids) == 0 {
			return nil
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		candidates, err := s.fetchWithEnvelope(seqset)
		if err != nil {
			return err
		}
		// HEADER search is a substring match; keep only the exact id.
		for i := range candidates {
			if models.NewMessageID(candidates[i].messageID) == id {
				found = &candidates[i].RawMessage
				break
			}
		}
		return nil
	})
	if err != nil {
		return RawMessage{}, err
	}
	if found == nil {
		return RawMessage{}, fmt.Errorf("%w: message %s in %q", ErrNotFound, id, folder)
	}
	return *found, nil
}

func (s *imapSession) SetFlag(ctx context.Context, folder string, uid models.UID, flag models.Flag, value bool) error {
	imapFlag, ok := imapFlags[flag]
	if !ok {
		return fmt.Errorf("unsupported flag %q", flag)
	}
	var op imap.FlagsOp = imap.RemoveFlags
	if value {
		op = imap.AddFlags
	}
	return s.do(ctx, func() error {
		if _, err := s.selectFolder(folder); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uint32(uid))
		if err := s.c.UidStore(seqset, imap.FormatFlagsOp(op, true), []interface{}{imapFlag}, nil); err != nil {
			return fmt.Errorf("store %s on uid %d: %w", flag, uid, err)
		}
		return nil
	})
}

func (s *imapSession) Move(ctx context.Context, folder string, uid models.UID, target string) error {
	return s.do(ctx, func() error {
		if _, err := s.selectFolder(folder); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uint32(uid))
		// UidMove falls back to COPY + STORE \Deleted + EXPUNGE without MOVE support.
		if err := s.c.UidMove(seqset, target); err != nil {
			return fmt.Errorf("move uid %d to %q: %w", uid, target, err)
		}
		return nil
	})
}

func (s *imapSession) DeleteAll(ctx context.Context, folder string) (int, error) {
	var count int
	err := s.do(ctx, func() error {
		mbox, err := s.selectFolder(folder)
		if err != nil {
			return err
		}
		if mbox.Messages == 0 {
			return nil
		}
		seqset := new(imap.SeqSet)
		seqset.AddRange(1, 0) // 1:*
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := s.c.Store(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("flag all deleted in %q: %w", folder, err)
		}
		if err := s.c.Expunge(nil); err != nil {
			return fmt.Errorf("expunge %q: %w", folder, err)
		}
		count = int(mbox.Messages)
		return nil
	})
	return count, err
}

func (s *imapSession) Append(ctx context.Context, folder string, flags []string, date time.Time, literal []byte) error {
	return s.do(ctx, func() error {
		if err := s.c.Append(folder, flags, date, bytes.NewBuffer(literal)); err != nil {
			return fmt.Errorf("append to %q: %w", folder, err)
		}
		return nil
	})
}

func (s *imapSession) Close() error {
	if s.c.State() == imap.LogoutState {
		return nil
	}
	if err := s.c.Logout(); err != nil {
		s.logger.WithError(err).Debug("IMAP logout failed, terminating connection")
		return s.c.Terminate()
	}
	return nil
}

var imapFlags = map[models.Flag]string{
	models.FlagSeen:     imap.SeenFlag,
	models.FlagFlagged:  imap.FlaggedFlag,
	models.FlagAnswered: imap.AnsweredFlag,
}

var bodySection = &imap.BodySectionName{Peek: true}

type envelopedMessage struct {
	RawMessage
	messageID string
}

func (s *imapSession) fetch(seqset *imap.SeqSet, byUID bool) ([]RawMessage, error) {
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, bodySection.FetchItem()}
	msgs, err := s.collect(seqset, items, byUID)
	if err != nil {
		return nil, err
	}
	out := make([]RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.RawMessage)
	}
	return out, nil
}

func (s *imapSession) fetchWithEnvelope(seqset *imap.SeqSet) ([]envelopedMessage, error) {
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, imap.FetchEnvelope, bodySection.FetchItem()}
	return s.collect(seqset, items, true)
}

func (s *imapSession) collect(seqset *imap.SeqSet, items []imap.FetchItem, byUID bool) ([]envelopedMessage, error) {
	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		if byUID {
			done <- s.c.UidFetch(seqset, items, ch)
		} else {
			done <- s.c.Fetch(seqset, items, ch)
		}
	}()

	var out []envelopedMessage
	var readErr error
	for msg := range ch {
		if readErr != nil {
			continue // drain
		}
		m, err := toRaw(msg)
		if err != nil {
			readErr = err
			continue
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}

func toRaw(msg *imap.Message) (envelopedMessage, error) {
	m := envelopedMessage{
		RawMessage: RawMessage{
			UID:          models.UID(msg.Uid),
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
		},
	}
	if msg.Envelope != nil {
		m.messageID = msg.Envelope.MessageId
	}
	if body := msg.GetBody(bodySection); body != nil {
		literal, err := io.ReadAll(body)
		if err != nil {
			return m, fmt.Errorf("read body of uid %d: %w", msg.Uid, err)
		}
		m.Literal = literal
	}
	return m, nil
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
