// SPDX-License-Identifier: MIT

// Package progress renders rate-limited status edits to the private and
// public surfaces of a session. Rate limiting is pure arithmetic on a
// monotonic clock; the reporter never sleeps.
package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/metrics"
)

// EditInterval is the minimum spacing between successful edits to one
// surface. Matches the upstream flood-control budget.
const EditInterval = 7 * time.Second

const barCells = 10

// Surface is an editable status message.
type Surface struct {
	Chat chat.ChatID
	Msg  chat.MessageID
}

// Reporter issues surface edits through the chat adapter.
type Reporter struct {
	client chat.Client
	now    func() time.Time
	logger zerolog.Logger
}

// NewReporter creates a Reporter over the given chat client.
func NewReporter(client chat.Client) *Reporter {
	return &Reporter{
		client: client,
		now:    time.Now,
		logger: log.WithComponent("progress"),
	}
}

// Tracker is the message-scoped progress state. One tracker per stage.
type Tracker struct {
	r *Reporter

	mu         sync.Mutex
	action     string
	private    Surface
	public     *Surface
	start      time.Time
	lastEdit   time.Time
	lastSample time.Time
	lastText   string
	lastBytes  int64
}

// Attach binds a tracker to the private surface and, optionally, the public
// one. action is the leading label (e.g. "📥 Downloading").
func (r *Reporter) Attach(private Surface, public *Surface, action string) *Tracker {
	now := r.now()
	return &Tracker{
		r:       r,
		action:  action,
		private: private,
		public:  public,
		start:   now,
	}
}

// SetAction switches the leading label for subsequent renders.
func (t *Tracker) SetAction(action string) {
	t.mu.Lock()
	t.action = action
	t.mu.Unlock()
}

// Report renders a progress sample. Calls inside the edit interval, and
// renders identical to the previous one, are no-ops.
func (t *Tracker) Report(ctx context.Context, current, total int64) {
	t.mu.Lock()
	now := t.r.now()

	if !t.lastEdit.IsZero() && now.Sub(t.lastEdit) < EditInterval {
		t.mu.Unlock()
		metrics.ProgressEdits.WithLabelValues("throttled").Inc()
		return
	}

	speed := instantSpeed(current, t.lastBytes, now, t.lastSample)
	text := render(t.action, current, total, speed, now.Sub(t.start))

	if text == t.lastText {
		// Diff suppression: no API call, and the clock is not advanced so
		// the next differing sample goes out immediately.
		t.mu.Unlock()
		metrics.ProgressEdits.WithLabelValues("suppressed").Inc()
		return
	}

	t.lastEdit = now
	t.lastSample = now
	t.lastBytes = current
	t.lastText = text
	private, public := t.private, t.public
	t.mu.Unlock()

	t.r.edit(ctx, private, public, text)
}

// Status writes free-form text, bypassing the rate limit; identical text is
// still suppressed.
func (t *Tracker) Status(ctx context.Context, text string) {
	t.mu.Lock()
	if text == t.lastText {
		t.mu.Unlock()
		metrics.ProgressEdits.WithLabelValues("suppressed").Inc()
		return
	}
	t.lastText = text
	private, public := t.private, t.public
	t.mu.Unlock()

	t.r.edit(ctx, private, public, text)
}

// Detach renders the final line on the private surface. The public surface
// is deleted when deletePublic is set, otherwise it receives the final text
// too. The tracker must not be used afterwards.
func (t *Tracker) Detach(ctx context.Context, finalText string, deletePublic bool) {
	t.mu.Lock()
	private, public := t.private, t.public
	t.mu.Unlock()

	if finalText != "" {
		t.r.editOne(ctx, private, finalText)
	}
	if public == nil {
		return
	}
	if deletePublic {
		if err := t.r.client.DeleteMessage(ctx, public.Chat, public.Msg); err != nil {
			t.r.logger.Info().Err(err).Msg("failed to delete public surface")
		}
		return
	}
	if finalText != "" {
		t.r.editOne(ctx, *public, "Status: "+finalText)
	}
}

// edit writes the same text to both surfaces. A failure on one surface does
// not suppress the other.
func (r *Reporter) edit(ctx context.Context, private Surface, public *Surface, text string) {
	r.editOne(ctx, private, text)
	if public != nil {
		r.editOne(ctx, *public, "Status: "+text)
	}
}

func (r *Reporter) editOne(ctx context.Context, s Surface, text string) {
	if s.Msg == 0 {
		return
	}
	err := r.client.EditMessageText(ctx, s.Chat, s.Msg, text, nil)
	switch {
	case err == nil:
		metrics.ProgressEdits.WithLabelValues("sent").Inc()
	case errors.Is(err, chat.ErrNotModified):
		// Harmless; the surface already shows this text.
	case chat.IsFloodWait(err):
		r.logger.Debug().Err(err).Msg("edit skipped by upstream flood control")
	default:
		r.logger.Info().Err(err).Int64("chat", int64(s.Chat)).Msg("status edit failed")
	}
}

func instantSpeed(current, lastBytes int64, now, lastSample time.Time) float64 {
	if lastSample.IsZero() {
		return 0
	}
	dt := now.Sub(lastSample).Seconds()
	if dt <= 0 || current < lastBytes {
		return 0
	}
	return float64(current-lastBytes) / dt
}

const mib = 1024 * 1024

// render produces the full status block: action line, 10-cell bar, sizes in
// MiB, speed, ETA and elapsed. A zero total renders as indeterminate.
func render(action string, current, total int64, speed float64, elapsed time.Duration) string {
	var b strings.Builder
	if action != "" {
		b.WriteString(action)
		b.WriteByte('\n')
	}

	if total > 0 {
		pct := float64(current) * 100 / float64(total)
		filled := int(pct * barCells / 100)
		if filled > barCells {
			filled = barCells
		}
		bar := strings.Repeat("■", filled) + strings.Repeat("□", barCells-filled)
		fmt.Fprintf(&b, "Progress: %s %.1f%%\n", bar, pct)
		fmt.Fprintf(&b, "Size: %.1f MiB / %.1f MiB\n", float64(current)/mib, float64(total)/mib)
	} else {
		bar := strings.Repeat("□", barCells)
		fmt.Fprintf(&b, "Progress: %s\n", bar)
		fmt.Fprintf(&b, "Size: %.1f MiB / ?\n", float64(current)/mib)
	}

	fmt.Fprintf(&b, "Speed: %.1f MiB/s\n", speed/mib)

	if speed > 0 && total > current {
		eta := int64(float64(total-current) / speed)
		fmt.Fprintf(&b, "ETA: %ds\n", eta)
	} else {
		b.WriteString("ETA: -\n")
	}

	fmt.Fprintf(&b, "Elapsed: %ds", int64(elapsed.Seconds()))
	return b.String()
}
