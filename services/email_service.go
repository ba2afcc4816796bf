package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mailcache/cache"
	"mailcache/mailbox"
	"mailcache/models"
	"mailcache/utils"
)

type ServiceConfig struct {
	CacheTTL     time.Duration
	PageSize     int
	FetchWorkers int
	AppURL       string
	FromEmail    string
	FromName     string
	Folders      map[string]string
}

// EmailService serves mailbox state out of the cache and keeps the cache in
// step with every write it performs against the server.
type EmailService struct {
	store      cache.Store
	opener     mailbox.Opener
	mailer     utils.Mailer
	folders    *FolderResolver
	normalizer *Normalizer
	from       utils.Address
	ttl        time.Duration
	pageSize   int
	workers    int
	logger     *logrus.Entry
	now        func() time.Time
}

func NewEmailService(store cache.Store, opener mailbox.Opener, mailer utils.Mailer, cfg ServiceConfig, logger *logrus.Entry) *EmailService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EmailService{
		store:      store,
		opener:     opener,
		mailer:     mailer,
		folders:    NewFolderResolver(cfg.Folders),
		normalizer: &Normalizer{BaseURL: cfg.AppURL},
		from:       utils.Address{Email: cfg.FromEmail, Name: cfg.FromName},
		ttl:        cfg.CacheTTL,
		pageSize:   cfg.PageSize,
		workers:    cfg.FetchWorkers,
		logger:     logger,
		now:        time.Now,
	}
}

type FolderResult struct {
	Folder   Folder
	Messages []models.UniboxEmail
	Cached   bool
}

func (s *EmailService) resolve(key string) Folder {
	folder, ok := s.folders.Resolve(key)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"requested": key,
			"folder":    folder.Name,
		}).Warn("Unknown folder key, falling back to inbox")
	}
	return folder
}

// GetFolder returns the newest messages of one folder, from the cache unless
// forceRefresh is set or the entry is missing.
func (s *EmailService) GetFolder(ctx context.Context, key string, forceRefresh bool) (FolderResult, error) {
	folder := s.resolve(key)
	if !forceRefresh {
		if list, ok := s.cachedFolder(ctx, folder.Key); ok {
			return FolderResult{Folder: folder, Messages: list, Cached: true}, nil
		}
	}

	sess, err := s.opener.Open(ctx)
	if err != nil {
		return FolderResult{Folder: folder}, remoteErr("open session", err)
	}
	defer sess.Close()

	list, err := s.fetchFolder(ctx, sess, folder)
	if err != nil {
		return FolderResult{Folder: folder}, err
	}
	s.writeFolder(ctx, folder.Key, list)
	return FolderResult{Folder: folder, Messages: list}, nil
}

// GetAll returns every logical folder keyed by its logical key. Folders that
// fail come back empty and are reported in the second map; the aggregate is
// only cached when nothing failed.
func (s *EmailService) GetAll(ctx context.Context, forceRefresh bool) (map[string][]models.UniboxEmail, map[string]error) {
	if !forceRefresh {
		all, err := cache.GetAll(ctx, s.store)
		if err == nil {
			return all, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.WithError(err).Warn("Reading aggregate cache failed")
		}
	}

	folders := s.folders.Standard()
	lists := make([][]models.UniboxEmail, len(folders))
	errs := make([]error, len(folders))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, folder := range folders {
		g.Go(func() error {
			res, err := s.GetFolder(ctx, folder.Key, forceRefresh)
			lists[i], errs[i] = res.Messages, err
			return nil
		})
	}
	_ = g.Wait()

	all := make(map[string][]models.UniboxEmail, len(folders))
	failures := map[string]error{}
	for i, folder := range folders {
		if errs[i] != nil {
			s.logger.WithError(errs[i]).WithField("folder", folder.Name).Error("Fetching folder failed")
			failures[folder.Key] = errs[i]
			all[folder.Key] = []models.UniboxEmail{}
			continue
		}
		all[folder.Key] = nonNil(lists[i])
	}

	if len(failures) == 0 {
		if err := cache.SetAll(ctx, s.store, all, s.ttl); err != nil {
			s.logger.WithError(err).Warn("Writing aggregate cache failed")
		}
	}
	return all, failures
}

// Move relocates the messages with the given ids from one folder to another
// and returns the ids that actually moved. Ids not present in the source are
// skipped; a server failure stops the batch and is returned with what moved so far.
func (s *EmailService) Move(ctx context.Context, sourceKey string, ids []models.MessageID, targetKey string) ([]models.MessageID, error) {
	source := s.resolve(sourceKey)
	target := s.resolve(targetKey)
	moved := []models.MessageID{}
	if source.Name == target.Name {
		return moved, nil
	}

	sess, err := s.opener.Open(ctx)
	if err != nil {
		return moved, remoteErr("open session", err)
	}
	defer sess.Close()

	var (
		records []models.UniboxEmail
		runErr  error
	)
	for _, id := range ids {
		if id == "" {
			continue
		}
		raw, err := s.find(ctx, sess, source, id)
		if errors.Is(err, mailbox.ErrNotFound) {
			s.logger.WithFields(logrus.Fields{"message_id": id, "folder": source.Name}).Debug("Message not in source folder, skipping")
			continue
		}
		if err != nil {
			runErr = remoteErr("find message", err)
			break
		}

		// parse before moving; the uid is gone from the source afterwards
		record, parseErr := s.normalizer.Normalize(raw, source)

		if err := sess.Move(ctx, source.Name, raw.UID, target.Name); err != nil {
			if errors.Is(err, mailbox.ErrNotFound) {
				continue
			}
			runErr = remoteErr("move message", err)
			break
		}
		moved = append(moved, id)

		if parseErr != nil {
			s.logger.WithError(parseErr).WithField("message_id", id).Warn("Moved message could not be parsed for the cache")
			continue
		}
		// the target assigns a new uid we do not learn until the next fetch
		record.UID = 0
		record.Folder = target.Name
		for i := range record.Attachments {
			record.Attachments[i].DownloadURL = ""
		}
		records = append(records, record)
	}

	if len(moved) > 0 {
		s.patchAfterMove(ctx, source, target, moved, records)
	}
	s.invalidate(ctx, cache.AllFoldersKey)
	return moved, runErr
}

func (s *EmailService) patchAfterMove(ctx context.Context, source, target Folder, moved []models.MessageID, records []models.UniboxEmail) {
	if list, ok := s.cachedFolder(ctx, source.Key); ok {
		list = slices.DeleteFunc(list, func(e models.UniboxEmail) bool {
			return slices.Contains(moved, e.MessageID)
		})
		s.writeFolder(ctx, source.Key, list)
	}

	if list, ok := s.cachedFolder(ctx, target.Key); ok {
		list = slices.DeleteFunc(list, func(e models.UniboxEmail) bool {
			return slices.ContainsFunc(records, func(r models.UniboxEmail) bool { return r.MessageID == e.MessageID })
		})
		s.writeFolder(ctx, target.Key, append(slices.Clone(records), list...))
	}
}

// find locates a message by id. Derived ids exist in no header, so they are
// matched by normalizing the folder's recent window the way GetFolder does.
func (s *EmailService) find(ctx context.Context, sess mailbox.Session, folder Folder, id models.MessageID) (mailbox.RawMessage, error) {
	if !id.Derived() {
		return sess.FindByMessageID(ctx, folder.Name, id)
	}
	recent, err := sess.FetchRecent(ctx, folder.Name, s.pageSize)
	if err != nil {
		return mailbox.RawMessage{}, err
	}
	for _, raw := range recent {
		msg, err := s.normalizer.Normalize(raw, folder)
		if err == nil && msg.MessageID == id {
			return raw, nil
		}
	}
	return mailbox.RawMessage{}, fmt.Errorf("%w: %s in %s", mailbox.ErrNotFound, id, folder.Name)
}

// SetFlag sets or clears one flag on a message and patches that single field
// in the cached folder list.
func (s *EmailService) SetFlag(ctx context.Context, key string, id models.MessageID, flag models.Flag, value bool) error {
	folder := s.resolve(key)
	if id == "" {
		return fmt.Errorf("set flag: %w: empty message id", ErrNotFound)
	}

	sess, err := s.opener.Open(ctx)
	if err != nil {
		return remoteErr("open session", err)
	}
	defer sess.Close()

	raw, err := s.find(ctx, sess, folder, id)
	if err != nil {
		return remoteErr("find message", err)
	}
	if err := sess.SetFlag(ctx, folder.Name, raw.UID, flag, value); err != nil {
		return remoteErr("set flag", err)
	}

	if list, ok := s.cachedFolder(ctx, folder.Key); ok {
		patched := false
		for i := range list {
			if list[i].MessageID == id {
				patched = list[i].SetFlag(flag, value) || patched
			}
		}
		if patched {
			s.writeFolder(ctx, folder.Key, list)
		}
	}
	s.invalidate(ctx, cache.AllFoldersKey)
	return nil
}

// DeletePermanentAll expunges every message in the folder. It never returns
// an error; failures are reported in the result.
func (s *EmailService) DeletePermanentAll(ctx context.Context, key string) models.DeleteResult {
	folder := s.resolve(key)
	defer s.invalidate(ctx, cache.FolderKey(folder.Key), cache.AllFoldersKey)

	sess, err := s.opener.Open(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Opening session for permanent delete failed")
		return models.DeleteResult{Message: "Failed to delete emails: " + err.Error()}
	}
	defer sess.Close()

	n, err := sess.DeleteAll(ctx, folder.Name)
	if err != nil {
		s.logger.WithError(err).WithField("folder", folder.Name).Error("Permanent delete failed")
		return models.DeleteResult{Message: "Failed to delete emails: " + err.Error()}
	}
	s.logger.WithFields(logrus.Fields{"folder": folder.Name, "deleted": n}).Info("Permanently deleted folder contents")
	return models.DeleteResult{
		Success: true,
		Message: fmt.Sprintf("All emails in %s permanently deleted", folder.Name),
		Deleted: n,
	}
}

func (s *EmailService) fetchFolder(ctx context.Context, sess mailbox.Session, folder Folder) ([]models.UniboxEmail, error) {
	raws, err := sess.FetchRecent(ctx, folder.Name, s.pageSize)
	if err != nil {
		return nil, remoteErr("fetch "+folder.Name, err)
	}

	list := make([]models.UniboxEmail, 0, len(raws))
	for _, raw := range raws {
		msg, err := s.normalizer.Normalize(raw, folder)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"folder": folder.Name, "uid": raw.UID}).Warn("Skipping unparseable message")
			continue
		}
		list = append(list, msg)
	}
	slices.SortStableFunc(list, models.Newer)
	return list, nil
}

// cachedFolder reads a folder list; any cache failure counts as a miss.
func (s *EmailService) cachedFolder(ctx context.Context, key string) ([]models.UniboxEmail, bool) {
	list, err := cache.GetFolder(ctx, s.store, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.WithError(err).WithField("key", cache.FolderKey(key)).Warn("Reading folder cache failed")
		}
		return nil, false
	}
	return nonNil(list), true
}

func (s *EmailService) writeFolder(ctx context.Context, key string, list []models.UniboxEmail) {
	if err := cache.SetFolder(ctx, s.store, key, list, s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", cache.FolderKey(key)).Warn("Writing folder cache failed")
	}
}

func (s *EmailService) invalidate(ctx context.Context, keys ...string) {
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).WithField("keys", keys).Warn("Cache invalidation failed")
	}
}

func nonNil(list []models.UniboxEmail) []models.UniboxEmail {
	if list == nil {
		return []models.UniboxEmail{}
	}
	return list
}
