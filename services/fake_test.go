package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emersion/go-imap"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"mailcache/cache"
	"mailcache/mailbox"
	"mailcache/models"
)

// fakeServer is an in-memory mailbox standing in for the IMAP server.
type fakeServer struct {
	mu       sync.Mutex
	folders  map[string][]*fakeMessage
	nextUID  map[string]models.UID
	order    []string
	opens    int
	fetches  map[string]int
	failOpen error
	fail     map[string]error // per folder, returned by every operation on it
	failMove error
}

type fakeMessage struct {
	uid     models.UID
	flags   []string
	date    time.Time
	literal []byte
}

func newFakeServer(folders ...string) *fakeServer {
	f := &fakeServer{
		folders: map[string][]*fakeMessage{},
		nextUID: map[string]models.UID{},
		fetches: map[string]int{},
		fail:    map[string]error{},
	}
	for _, name := range folders {
		f.folders[name] = nil
		f.nextUID[name] = 1
		f.order = append(f.order, name)
	}
	return f
}

func newStandardServer() *fakeServer {
	return newFakeServer("INBOX", "Sent Items", "Drafts", "Deleted Items", "Junk Mail", "Archive")
}

func (f *fakeServer) add(folder string, literal string, flags ...string) models.UID {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := f.nextUID[folder]
	f.nextUID[folder]++
	f.folders[folder] = append(f.folders[folder], &fakeMessage{uid: uid, flags: flags, date: time.Now(), literal: []byte(literal)})
	return uid
}

func (f *fakeServer) messages(folder string) []*fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.folders[folder])
}

func (f *fakeServer) fetchCount(folder string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[folder]
}

func (f *fakeServer) Open(ctx context.Context) (mailbox.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen != nil {
		return nil, f.failOpen
	}
	f.opens++
	return &fakeSession{srv: f}, nil
}

type fakeSession struct {
	srv    *fakeServer
	closed bool
}

func (s *fakeSession) folder(name string) ([]*fakeMessage, error) {
	if err := s.srv.fail[name]; err != nil {
		return nil, err
	}
	msgs, ok := s.srv.folders[name]
	if !ok {
		return nil, fmt.Errorf("%w: folder %q", mailbox.ErrNotFound, name)
	}
	return msgs, nil
}

func (s *fakeSession) ListFolders(context.Context) ([]string, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	return slices.Clone(s.srv.order), nil
}

func (s *fakeSession) FetchRecent(_ context.Context, name string, limit int) ([]mailbox.RawMessage, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.srv.fetches[name]++
	msgs, err := s.folder(name)
	if err != nil {
		return nil, err
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]mailbox.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.raw())
	}
	return out, nil
}

func (s *fakeSession) FetchByUID(_ context.Context, name string, uid models.UID) (mailbox.RawMessage, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	msgs, err := s.folder(name)
	if err != nil {
		return mailbox.RawMessage{}, err
	}
	for _, m := range msgs {
		if m.uid == uid {
			return m.raw(), nil
		}
	}
	return mailbox.RawMessage{}, mailbox.ErrNotFound
}

func (s *fakeSession) FindByMessageID(_ context.Context, name string, id models.MessageID) (mailbox.RawMessage, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	msgs, err := s.folder(name)
	if err != nil {
		return mailbox.RawMessage{}, err
	}
	for _, m := range msgs {
		if m.messageID() == id {
			return m.raw(), nil
		}
	}
	return mailbox.RawMessage{}, mailbox.ErrNotFound
}

func (s *fakeSession) SetFlag(_ context.Context, name string, uid models.UID, flag models.Flag, value bool) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	msgs, err := s.folder(name)
	if err != nil {
		return err
	}
	imapFlag := map[models.Flag]string{
		models.FlagSeen:     imap.SeenFlag,
		models.FlagFlagged:  imap.FlaggedFlag,
		models.FlagAnswered: imap.AnsweredFlag,
	}[flag]
	for _, m := range msgs {
		if m.uid == uid {
			m.flags = slices.DeleteFunc(m.flags, func(f string) bool { return f == imapFlag })
			if value {
				m.flags = append(m.flags, imapFlag)
			}
			return nil
		}
	}
	return mailbox.ErrNotFound
}

func (s *fakeSession) Move(_ context.Context, name string, uid models.UID, target string) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if s.srv.failMove != nil {
		return s.srv.failMove
	}
	msgs, err := s.folder(name)
	if err != nil {
		return err
	}
	if _, err := s.folder(target); err != nil {
		return err
	}
	for i, m := range msgs {
		if m.uid == uid {
			s.srv.folders[name] = slices.Delete(msgs, i, i+1)
			m.uid = s.srv.nextUID[target]
			s.srv.nextUID[target]++
			s.srv.folders[target] = append(s.srv.folders[target], m)
			return nil
		}
	}
	return mailbox.ErrNotFound
}

func (s *fakeSession) DeleteAll(_ context.Context, name string) (int, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	msgs, err := s.folder(name)
	if err != nil {
		return 0, err
	}
	s.srv.folders[name] = nil
	return len(msgs), nil
}

func (s *fakeSession) Append(_ context.Context, name string, flags []string, date time.Time, literal []byte) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if _, err := s.folder(name); err != nil {
		return err
	}
	uid := s.srv.nextUID[name]
	s.srv.nextUID[name]++
	s.srv.folders[name] = append(s.srv.folders[name], &fakeMessage{uid: uid, flags: flags, date: date, literal: literal})
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (m *fakeMessage) raw() mailbox.RawMessage {
	return mailbox.RawMessage{UID: m.uid, Flags: slices.Clone(m.flags), InternalDate: m.date, Literal: m.literal}
}

func (m *fakeMessage) messageID() models.MessageID {
	msg, err := mail.ReadMessage(bytes.NewReader(m.literal))
	if err != nil {
		return ""
	}
	return models.NewMessageID(msg.Header.Get("Message-Id"))
}

// fakeMailer records what would have gone out over SMTP.
type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

// brokenStore fails every operation.
type brokenStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenStore) Get(context.Context, string) ([]byte, error)              { return nil, errStoreDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error { return errStoreDown }
func (brokenStore) Delete(context.Context, ...string) error                  { return errStoreDown }

type harness struct {
	svc    *EmailService
	srv    *fakeServer
	mr     *miniredis.Miniredis
	store  *cache.RedisStore
	mailer *fakeMailer
	logs   *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	srv := newStandardServer()
	mailer := &fakeMailer{}
	store := cache.NewRedisStore(client)
	svc := NewEmailService(store, srv, mailer, ServiceConfig{
		CacheTTL:     time.Hour,
		PageSize:     50,
		FetchWorkers: 3,
		AppURL:       "https://api.example.com",
		FromEmail:    "me@example.com",
		FromName:     "Me",
	}, logrus.NewEntry(logger))

	return &harness{svc: svc, srv: srv, mr: mr, store: store, mailer: mailer, logs: hook}
}

func (h *harness) cached(t *testing.T, key string) []models.UniboxEmail {
	t.Helper()
	list, err := cache.GetFolder(context.Background(), h.store, key)
	require.NoError(t, err)
	return list
}

type fixture struct {
	id      string
	from    string
	to      string
	subject string
	date    string
	text    string
	html    string
}

func (f fixture) literal() string {
	var b strings.Builder
	from := f.from
	if from == "" {
		from = "Alice <alice@example.com>"
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	if f.to != "" {
		fmt.Fprintf(&b, "To: %s\r\n", f.to)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", f.subject)
	if f.id != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", f.id)
	}
	if f.date != "" {
		fmt.Fprintf(&b, "Date: %s\r\n", f.date)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	if f.html != "" {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(f.html)
	} else {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(f.text)
	}
	return b.String()
}

const attachmentLiteral = "From: bob@example.com\r\n" +
	"To: me@example.com\r\n" +
	"Subject: files\r\n" +
	"Message-ID: <files@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"hello notes\r\n" +
	"--XYZ--\r\n"
