// SPDX-License-Identifier: MIT

package feed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/dedup"
	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/metrics"
)

// Watcher periodically fetches the feed and announces unseen items.
type Watcher struct {
	fetcher  Fetcher
	store    dedup.Store
	client   chat.Client
	channels []chat.ChatID
	interval time.Duration
	limiter  *rate.Limiter

	enabled atomic.Bool
	logger  zerolog.Logger
}

// NewWatcher wires a watcher. delay spaces consecutive item announcements
// so a burst of new entries does not trip upstream rate limits. The
// watcher starts enabled.
func NewWatcher(fetcher Fetcher, store dedup.Store, client chat.Client, channels []chat.ChatID, interval, delay time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	w := &Watcher{
		fetcher:  fetcher,
		store:    store,
		client:   client,
		channels: channels,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		logger:   log.WithComponent("feed"),
	}
	w.enabled.Store(true)
	return w
}

// SetEnabled toggles announcing without stopping the poll loop, so dedup
// history keeps accumulating while paused.
func (w *Watcher) SetEnabled(on bool) {
	w.enabled.Store(on)
	w.logger.Info().Bool("enabled", on).Msg("feed announcements toggled")
}

// Enabled reports the current toggle state.
func (w *Watcher) Enabled() bool { return w.enabled.Load() }

// Run polls until ctx is cancelled. An immediate first check seeds the
// dedup store on fresh deployments.
func (w *Watcher) Run(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	items, err := w.fetcher.Fetch(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("feed fetch failed")
		return
	}

	// Feeds list newest first; announce oldest first so channel order
	// matches release order.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		seen, err := w.store.Seen(ctx, item.ID)
		if err != nil {
			w.logger.Error().Err(err).Str("id", item.ID).Msg("dedup lookup failed")
			return
		}
		if seen {
			continue
		}

		if w.enabled.Load() {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			if !w.announce(ctx, item) {
				// No channel accepted the item; leave it unmarked so the
				// next tick retries instead of dropping it forever.
				continue
			}
		}

		// Mark regardless of the toggle: items arriving while paused are
		// considered handled, not deferred.
		if err := w.store.Mark(ctx, item.ID); err != nil {
			w.logger.Error().Err(err).Str("id", item.ID).Msg("dedup mark failed")
			return
		}
	}
}

// announce sends the item to every target channel and reports whether at
// least one accepted it.
func (w *Watcher) announce(ctx context.Context, item Item) bool {
	text := item.Title
	if item.Link != "" {
		text += "\n" + item.Link
	}

	delivered := 0
	for _, ch := range w.channels {
		var err error
		if item.Image != "" {
			_, err = w.client.SendPhoto(ctx, ch, item.Image, text, nil)
			if err != nil {
				w.logger.Debug().Err(err).Str("id", item.ID).Msg("photo announce failed; falling back to text")
				_, err = w.client.SendMessage(ctx, ch, text, nil)
			}
		} else {
			_, err = w.client.SendMessage(ctx, ch, text, nil)
		}
		if err != nil {
			w.logger.Warn().Err(err).Int64("channel", int64(ch)).Str("id", item.ID).Msg("feed announce failed")
			continue
		}
		delivered++
		metrics.FeedItemsPublished.Inc()
	}
	if delivered == 0 {
		w.logger.Warn().Str("id", item.ID).Msg("feed item reached no channel")
		return false
	}
	w.logger.Info().Str("id", item.ID).Str("title", item.Title).Msg("feed item announced")
	return true
}
