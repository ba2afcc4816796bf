package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailcache/cache"
	"mailcache/mailbox"
	"mailcache/models"
	"mailcache/utils"
)

func (s *EmailService) newMessageID() models.MessageID {
	domain := "localhost"
	if at := strings.LastIndex(s.from.Email, "@"); at >= 0 && at < len(s.from.Email)-1 {
		domain = s.from.Email[at+1:]
	}
	return models.MessageID(uuid.NewString() + "@" + domain)
}

// SaveDraft stores the composition in the drafts folder. The drafts entry and
// the aggregate are dropped rather than patched.
func (s *EmailService) SaveDraft(ctx context.Context, c models.Compose) (models.DraftSummary, error) {
	drafts := s.resolve(models.FolderDraft)
	m := utils.ComposeEmail(s.from, c, s.newMessageID(), s.now())
	literal, err := utils.RenderEmail(m)
	if err != nil {
		return models.DraftSummary{}, err
	}

	sess, err := s.opener.Open(ctx)
	if err != nil {
		return models.DraftSummary{}, remoteErr("open session", err)
	}
	defer sess.Close()

	if err := sess.Append(ctx, drafts.Name, []string{imap.DraftFlag, imap.SeenFlag}, s.now(), literal); err != nil {
		return models.DraftSummary{}, remoteErr("save draft", err)
	}
	s.invalidate(ctx, cache.FolderKey(drafts.Key), cache.AllFoldersKey)

	return models.DraftSummary{
		Subject:     c.Subject,
		To:          c.To,
		Sender:      "Draft",
		SenderEmail: s.from.Email,
		Body:        utils.SplitBody(c.Body),
		Attachments: c.AttachmentNames(),
	}, nil
}

// Send transmits the message, files a copy in the sent folder and prepends a
// provisional record to the cached sent lists. The record has no uid and is
// marked unconfirmed until the next full refresh replaces it.
func (s *EmailService) Send(ctx context.Context, c models.Compose) (models.SendReceipt, error) {
	if strings.TrimSpace(c.To) == "" {
		return models.SendReceipt{}, fmt.Errorf("send: %w: recipient is required", ErrValidation)
	}
	if s.mailer == nil {
		return models.SendReceipt{}, fmt.Errorf("send: %w: no mail transport configured", ErrRemoteUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return models.SendReceipt{}, err
	}

	id := s.newMessageID()
	date := s.now()
	m := utils.ComposeEmail(s.from, c, id, date)
	literal, err := utils.RenderEmail(m)
	if err != nil {
		return models.SendReceipt{}, err
	}

	if err := s.mailer.DialAndSend(m); err != nil {
		return models.SendReceipt{}, fmt.Errorf("send: %w: %w", ErrRemoteUnavailable, err)
	}

	receipt := models.SendReceipt{
		To:               c.To,
		Subject:          c.Subject,
		MessageID:        id,
		AttachmentsCount: len(c.Attachments),
	}
	logger := s.logger.WithFields(logrus.Fields{"to": c.To, "message_id": id})

	sent := s.resolve(models.FolderSent)
	if err := s.saveToSent(ctx, sent, literal, date); err != nil {
		logger.WithError(err).Error("Message sent but copy to sent folder failed")
		return receipt, nil
	}
	receipt.SavedToSent = true

	raw := mailbox.RawMessage{Flags: []string{imap.SeenFlag}, InternalDate: date, Literal: literal}
	record, err := s.normalizer.Normalize(raw, sent)
	if err != nil {
		logger.WithError(err).Warn("Could not build provisional sent record")
		return receipt, nil
	}
	record.Unconfirmed = true
	for i := range record.Attachments {
		record.Attachments[i].DownloadURL = "" // no uid to address it by yet
	}
	s.prependSent(ctx, sent, record)
	logger.Info("Message sent")
	return receipt, nil
}

func (s *EmailService) saveToSent(ctx context.Context, sent Folder, literal []byte, date time.Time) error {
	sess, err := s.opener.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Append(ctx, sent.Name, []string{imap.SeenFlag}, date, literal)
}

// prependSent adds the record to the sent folder list and to the sent slot of
// the aggregate, each only if that entry is already cached.
func (s *EmailService) prependSent(ctx context.Context, sent Folder, record models.UniboxEmail) {
	if list, ok := s.cachedFolder(ctx, sent.Key); ok {
		s.writeFolder(ctx, sent.Key, append([]models.UniboxEmail{record}, list...))
	}

	all, err := cache.GetAll(ctx, s.store)
	if err != nil {
		return
	}
	all[sent.Key] = append([]models.UniboxEmail{record}, all[sent.Key]...)
	if err := cache.SetAll(ctx, s.store, all, s.ttl); err != nil {
		s.logger.WithError(err).Warn("Writing aggregate cache failed")
	}
}
