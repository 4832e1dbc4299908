// Package embedcheck implements the Embed Checker: a bounded-queue worker
// pool that dispatches each embed variant on an ingested record to the
// frequency counter and redirect-follower logic that variant requires.
package embedcheck

import (
	"context"
	"log/slog"
	"sync"

	"github.com/littleironwaltz/moderation-agent/internal/accountcache"
	"github.com/littleironwaltz/moderation-agent/internal/counters"
	"github.com/littleironwaltz/moderation-agent/internal/metrics"
	"github.com/littleironwaltz/moderation-agent/internal/model"
	"github.com/littleironwaltz/moderation-agent/internal/redirect"
	"github.com/littleironwaltz/moderation-agent/internal/whitelist"
)

// Checker is the Embed Checker: a single bounded queue drained by a fixed
// pool of worker goroutines sized by number_of_threads.
type Checker struct {
	queue     chan model.EmbedInfoList
	workers   int
	counters  *counters.Counters
	admission *whitelist.Admission
	follower  *redirect.Follower
	accounts  *accountcache.Cache
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// New constructs a Checker. workers mirrors number_of_threads and queueLimit
// mirrors queue_limit. accounts may be nil in tests that don't
// care about per-account activity history.
func New(queueLimit, workers int, c *counters.Counters, admission *whitelist.Admission, follower *redirect.Follower, accounts *accountcache.Cache, logger *slog.Logger) *Checker {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		queue:     make(chan model.EmbedInfoList, queueLimit),
		workers:   workers,
		counters:  c,
		admission: admission,
		follower:  follower,
		accounts:  accounts,
		logger:    logger,
	}
}

// Start launches the worker pool. Each worker drains the shared queue until
// ctx is canceled, at which point workers drain whatever remains queued
// before returning (graceful shutdown).
func (c *Checker) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.runWorker(ctx)
	}
}

func (c *Checker) runWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case item, ok := <-c.queue:
			if !ok {
				return
			}
			metrics.EmbedCheckerBacklog.Dec()
			c.process(ctx, item)
		case <-ctx.Done():
			c.drain(ctx)
			return
		}
	}
}

func (c *Checker) drain(ctx context.Context) {
	for {
		select {
		case item, ok := <-c.queue:
			if !ok {
				return
			}
			metrics.EmbedCheckerBacklog.Dec()
			c.process(context.Background(), item)
		default:
			return
		}
	}
}

// Enqueue blocks if the queue is full (backpressure) until ctx
// is canceled or room is available.
func (c *Checker) Enqueue(ctx context.Context, item model.EmbedInfoList) error {
	select {
	case c.queue <- item:
		metrics.EmbedCheckerBacklog.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every worker goroutine has returned.
func (c *Checker) Wait() {
	c.wg.Wait()
}

// process dispatches each embed variant in item to the counter (and, for
// external links, the redirect follower) its EmbedKind requires.
func (c *Checker) process(ctx context.Context, item model.EmbedInfoList) {
	for _, embed := range item.Embeds {
		switch embed.Kind {
		case model.EmbedImage:
			c.checkCategory(ctx, "image", embed.CID, c.counters.ImageSeen)
			c.recordActivity(item.RepoDID, accountcache.ActivityImage)
		case model.EmbedVideo:
			c.checkCategory(ctx, "video", embed.CID, c.counters.VideoSeen)
			c.recordActivity(item.RepoDID, accountcache.ActivityVideo)
		case model.EmbedRecord:
			c.checkCategory(ctx, "record", embed.URI, c.counters.RecordSeen)
			c.recordActivity(item.RepoDID, accountcache.ActivityRecord)
		case model.EmbedExternal:
			c.checkExternal(ctx, item.RepoDID, item.Path, embed.URI)
			c.recordActivity(item.RepoDID, accountcache.ActivityExternal)
		default:
			c.logger.Warn("embedcheck: unknown embed kind", "kind", embed.Kind)
		}
	}
}

func (c *Checker) recordActivity(repoDID string, kind accountcache.ActivityKind) {
	if c.accounts == nil {
		return
	}
	c.accounts.Record(accountcache.Event{DID: repoDID, Kind: kind})
}

func (c *Checker) checkCategory(_ context.Context, category, key string, seen func(string) (uint64, bool)) {
	count, alert := seen(key)
	metrics.ChecksTotal.WithLabelValues(category).Inc()
	if alert {
		metrics.AlertsTotal.WithLabelValues(category).Inc()
		c.logger.Info("embedcheck: frequency alert", "category", category, "key", key, "count", count)
	}
}

func (c *Checker) checkExternal(ctx context.Context, repoDID, path, rawURI string) {
	_, process, err := c.admission.ShouldProcess(rawURI)
	if err != nil {
		metrics.MalformedURIsTotal.Inc()
		c.logger.Warn("embedcheck: malformed external URI", "repo_did", repoDID, "path", path, "uri", rawURI, "err", err)
		return
	}
	if !process {
		c.logger.Debug("embedcheck: skipping whitelisted host", "repo_did", repoDID, "uri", rawURI)
		return
	}

	count, alert, didInsert := c.counters.LinkSeen(rawURI)
	metrics.ChecksTotal.WithLabelValues("link").Inc()
	if alert {
		metrics.AlertsTotal.WithLabelValues("link").Inc()
		c.logger.Info("embedcheck: frequency alert", "category", "link", "uri", rawURI, "count", count)
	}

	if !didInsert {
		// Already followed by an earlier sighting of this same URL; the
		// redirect chain's outcome was already reported then.
		return
	}

	c.follower.Follow(ctx, repoDID, path, rawURI)
}
