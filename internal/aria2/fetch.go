// SPDX-License-Identifier: MIT

package aria2

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/metrics"
)

// Sample is one progress observation emitted while a fetch is in flight.
type Sample struct {
	Completed int64
	Total     int64
	Speed     int64
}

// Fetcher runs URL downloads through the daemon and reports progress.
type Fetcher struct {
	client *Client
	dir    string
	poll   time.Duration
	logger zerolog.Logger
}

// NewFetcher wires a Fetcher targeting dir; poll controls how often job
// status is sampled (defaults to one second).
func NewFetcher(client *Client, dir string, poll time.Duration) *Fetcher {
	if poll <= 0 {
		poll = time.Second
	}
	return &Fetcher{
		client: client,
		dir:    dir,
		poll:   poll,
		logger: log.WithComponent("aria2"),
	}
}

// Fetch downloads url and blocks until the job reaches a terminal state,
// invoking report with each progress sample. Returns the downloaded file's
// path. Cancelling ctx removes the job from the daemon.
func (f *Fetcher) Fetch(ctx context.Context, url string, report func(Sample)) (string, error) {
	gid, err := f.client.AddURI(ctx, url, f.dir)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	f.logger.Info().Str("gid", gid).Str("url", url).Msg("download enqueued")

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort removal with a fresh context; ctx is already dead.
			rmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.client.Remove(rmCtx, gid); err != nil {
				f.logger.Warn().Err(err).Str("gid", gid).Msg("removing cancelled download")
			}
			cancel()
			metrics.DownloadsTotal.WithLabelValues("cancelled").Inc()
			return "", ctx.Err()
		case <-ticker.C:
		}

		st, err := f.client.TellStatus(ctx, gid)
		if err != nil {
			metrics.DownloadsTotal.WithLabelValues("error").Inc()
			return "", err
		}

		if report != nil {
			report(Sample{Completed: st.CompletedLength, Total: st.TotalLength, Speed: st.DownloadSpeed})
		}

		switch st.State {
		case "complete":
			metrics.DownloadsTotal.WithLabelValues("ok").Inc()
			f.logger.Info().Str("gid", gid).Str("path", st.FilePath).Msg("download complete")
			return st.FilePath, nil
		case "error":
			metrics.DownloadsTotal.WithLabelValues("error").Inc()
			return "", classify(st)
		case "removed":
			metrics.DownloadsTotal.WithLabelValues("cancelled").Inc()
			return "", fmt.Errorf("download %s removed", gid)
		}
	}
}

// classify maps the daemon's exit codes onto the failure sentinels. Codes
// follow the daemon's EXIT STATUS table; unknown codes fall back to message
// scanning so proxy-mangled errors still classify sensibly.
func classify(st Status) error {
	msg := st.ErrorMessage
	if msg == "" {
		msg = "download failed"
	}
	switch st.ErrorCode {
	case "3", "9":
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case "24":
		return fmt.Errorf("%w: %s", ErrAccessDenied, msg)
	case "1", "2", "6", "19":
		return fmt.Errorf("%w: %s", ErrNetwork, msg)
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case strings.Contains(lower, "authorization") || strings.Contains(lower, "403"):
		return fmt.Errorf("%w: %s", ErrAccessDenied, msg)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "network") || strings.Contains(lower, "resolve"):
		return fmt.Errorf("%w: %s", ErrNetwork, msg)
	}
	return fmt.Errorf("download failed (code %s): %s", st.ErrorCode, msg)
}
