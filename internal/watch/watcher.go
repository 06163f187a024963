// Package watch drives the poll loop: fetch each configured search target,
// deduplicate against the store, apply keyword filters, and hand new listings
// to the dispatcher. Everything runs on a single goroutine; that is what
// keeps the store's check-then-insert race benign.
package watch

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"olxwatch/internal/config"
	"olxwatch/internal/domain"
	"olxwatch/internal/polishtime"
	"olxwatch/internal/scraper"
)

// SeenStore is the dedup slice of the repository.
type SeenStore interface {
	HasSeen(ctx context.Context, platformID int64) (bool, error)
	MarkSeen(ctx context.Context, platformID int64, publishedOn time.Time) (uint64, error)
}

// Notifier delivers one listing to all subscribers.
type Notifier interface {
	Notify(ctx context.Context, listing *domain.Listing, category string) error
}

// Watcher is the poll-loop orchestrator.
type Watcher struct {
	targets  []config.Target
	store    SeenStore
	source   scraper.Source
	notifier Notifier
	interval time.Duration
	jitter   time.Duration
	log      logrus.FieldLogger

	now func() time.Time
	rng *rand.Rand
}

func New(targets []config.Target, store SeenStore, source scraper.Source, notifier Notifier, interval, jitter time.Duration, logger logrus.FieldLogger) *Watcher {
	return &Watcher{
		targets:  targets,
		store:    store,
		source:   source,
		notifier: notifier,
		interval: interval,
		jitter:   jitter,
		log:      logger.WithField("component", "watcher"),
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run loops until the context is cancelled: one pass over all targets, then a
// jittered sleep. The only terminal state is cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		w.runCycle(ctx)

		delay := w.nextDelay()
		w.log.WithField("delay", delay.String()).Info("Next check scheduled")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runCycle processes every target in configuration order, strictly
// sequentially. A broken target never stops the cycle.
func (w *Watcher) runCycle(ctx context.Context) {
	for _, target := range w.targets {
		if ctx.Err() != nil {
			return
		}
		w.processTarget(ctx, target)
	}
}

// processTarget fetches one search page and walks its listings. Failures are
// contained at target scope: a page failure means zero results this cycle, a
// store or date-parse failure abandons the remaining listings of this target.
//
// A listing that fails the keyword filter is still marked seen, so it will
// never be notified later even if the filters change.
func (w *Watcher) processTarget(ctx context.Context, target config.Target) {
	log := w.log.WithField("target", target.Name)
	log.Info("Checking target")

	listings, err := w.source.FetchListings(ctx, target.URL)
	if err != nil {
		log.WithError(err).Warn("Unable to check target, treating as no update")
		return
	}

	for _, listing := range listings {
		llog := log.WithField("listing_id", listing.ID)

		seen, err := w.store.HasSeen(ctx, listing.ID)
		if err != nil {
			llog.WithError(err).Error("Seen check failed, abandoning target this cycle")
			return
		}
		if seen {
			continue
		}

		publishedOn, err := polishtime.Parse(listing.PostedAt, w.now())
		if err != nil {
			// A novel date format means the site changed its rendering;
			// surface it loudly and move on to the next target.
			llog.WithError(err).Error("Unrecognized listing date, abandoning target this cycle")
			return
		}

		if _, err := w.store.MarkSeen(ctx, listing.ID, publishedOn); err != nil {
			llog.WithError(err).Error("Failed to persist seen record, abandoning target this cycle")
			return
		}

		if !matchesTarget(ctx, listing, target) {
			llog.WithField("title", listing.Title).Debug("Listing does not pass filters")
			continue
		}
		if err := w.notifier.Notify(ctx, listing, target.Name); err != nil {
			llog.WithError(err).Error("Failed to dispatch notification")
		}
	}
}

// matchesTarget evaluates the keyword filters, case-insensitively. The title
// is checked against every keyword before the description is touched: the
// description comes from a separate page load, so the cheap check must
// short-circuit the expensive one.
func matchesTarget(ctx context.Context, listing *domain.Listing, target config.Target) bool {
	if len(target.Filters) == 0 {
		return true
	}
	title := strings.ToLower(listing.Title)
	for _, keyword := range target.Filters {
		if strings.Contains(title, strings.ToLower(keyword)) {
			return true
		}
	}
	description := strings.ToLower(listing.Description(ctx))
	for _, keyword := range target.Filters {
		if strings.Contains(description, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// nextDelay returns the base interval plus a symmetric random jitter.
func (w *Watcher) nextDelay() time.Duration {
	if w.jitter <= 0 {
		return w.interval
	}
	offset := time.Duration(w.rng.Int63n(int64(2*w.jitter)+1)) - w.jitter
	return w.interval + offset
}
