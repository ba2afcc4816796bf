package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailcache/models"
)

// Refresher is the part of the email service the worker drives.
type Refresher interface {
	GetAll(ctx context.Context, forceRefresh bool) (map[string][]models.UniboxEmail, map[string]error)
}

// SyncWorker periodically forces a full refresh so cache drift from
// interleaved writes and provisional sent records is bounded.
type SyncWorker struct {
	service  Refresher
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Entry
}

func NewSyncWorker(service Refresher, interval time.Duration, logger *logrus.Entry) *SyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SyncWorker{
		service:  service,
		interval: interval,
		timeout:  interval,
		logger:   logger,
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	sw.logger.WithField("interval", sw.interval).Info("Starting sync worker...")
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.Sync(ctx)
		case <-ctx.Done():
			sw.logger.Info("Stopping sync worker...")
			return
		}
	}
}

// Sync runs one forced refresh of every folder. Failed folders are logged
// and the rest still land in the cache.
func (sw *SyncWorker) Sync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sw.timeout)
	defer cancel()

	started := time.Now()
	all, failures := sw.service.GetAll(ctx, true)
	for key, err := range failures {
		sw.logger.WithError(err).WithField("folder", key).Warn("Folder refresh failed")
	}

	total := 0
	for _, list := range all {
		total += len(list)
	}
	sw.logger.WithFields(logrus.Fields{
		"folders":  len(all),
		"failed":   len(failures),
		"messages": total,
		"took":     time.Since(started).String(),
	}).Debug("Sync completed")
}
