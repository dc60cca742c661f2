// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/chat/chattest"
)

func newTestReporter(fake *chattest.Fake) (*Reporter, *time.Time) {
	r := NewReporter(fake)
	clock := time.Unix(1700000000, 0)
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestReportThrottlesWithinInterval(t *testing.T) {
	fake := &chattest.Fake{}
	r, clock := newTestReporter(fake)
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, nil, "📥 Downloading")

	// Samples at t=0..6 must yield exactly one edit.
	for i := 0; i <= 6; i++ {
		tr.Report(context.Background(), int64(i)*mib, 100*mib)
		*clock = clock.Add(time.Second)
	}
	assert.Len(t, fake.CallsOf("EditMessageText"), 1)

	// t=7 yields the second edit.
	tr.Report(context.Background(), 50*mib, 100*mib)
	assert.Len(t, fake.CallsOf("EditMessageText"), 2)
}

func TestReportIdenticalRenderDoesNotConsumeBudget(t *testing.T) {
	fake := &chattest.Fake{}
	r, _ := newTestReporter(fake)
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, nil, "📥 Downloading")

	tr.Report(context.Background(), 50*mib, 100*mib)
	require.Len(t, fake.CallsOf("EditMessageText"), 1)

	// Age the last edit past the interval without moving the clock, so the
	// next sample renders byte-identically to the one already on screen.
	tr.mu.Lock()
	tr.lastEdit = tr.lastEdit.Add(-EditInterval)
	aged := tr.lastEdit
	tr.mu.Unlock()

	tr.Report(context.Background(), 50*mib, 100*mib)
	assert.Len(t, fake.CallsOf("EditMessageText"), 1, "identical render issues no edit")
	tr.mu.Lock()
	assert.Equal(t, aged, tr.lastEdit, "suppression must not advance the edit clock")
	tr.mu.Unlock()

	// A differing sample goes out immediately, not after another interval.
	tr.Report(context.Background(), 60*mib, 100*mib)
	assert.Len(t, fake.CallsOf("EditMessageText"), 2)
}

func TestReportWritesBothSurfaces(t *testing.T) {
	fake := &chattest.Fake{}
	r, _ := newTestReporter(fake)
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, &Surface{Chat: -100, Msg: 44}, "📤 Uploading")

	tr.Report(context.Background(), 5*mib, 10*mib)

	edits := fake.CallsOf("EditMessageText")
	require.Len(t, edits, 2)
	assert.Equal(t, chat.ChatID(1), edits[0].Chat)
	assert.Equal(t, chat.ChatID(-100), edits[1].Chat)
	assert.True(t, strings.HasPrefix(edits[1].Text, "Status: "), "public surface carries the Status prefix")
}

func TestStatusSuppressesIdenticalText(t *testing.T) {
	fake := &chattest.Fake{}
	r, _ := newTestReporter(fake)
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, nil, "")

	tr.Status(context.Background(), "🔄 Processing...")
	tr.Status(context.Background(), "🔄 Processing...")
	tr.Status(context.Background(), "🔄 Adding subtitles...")

	edits := fake.CallsOf("EditMessageText")
	require.Len(t, edits, 2)
	assert.Equal(t, "🔄 Processing...", edits[0].Text)
	assert.Equal(t, "🔄 Adding subtitles...", edits[1].Text)
}

func TestRenderBar(t *testing.T) {
	text := render("📥 Downloading", 50*mib, 100*mib, 2*mib, 10*time.Second)

	assert.Contains(t, text, "■■■■■□□□□□ 50.0%")
	assert.Contains(t, text, "Size: 50.0 MiB / 100.0 MiB")
	assert.Contains(t, text, "Speed: 2.0 MiB/s")
	assert.Contains(t, text, "ETA: 25s")
	assert.Contains(t, text, "Elapsed: 10s")
}

func TestRenderZeroTotalIsIndeterminate(t *testing.T) {
	assert.NotPanics(t, func() {
		text := render("📥 Downloading", 3*mib, 0, 0, time.Second)
		assert.Contains(t, text, "□□□□□□□□□□")
		assert.Contains(t, text, "/ ?")
		assert.NotContains(t, text, "%")
	})
}

func TestEditErrorsDoNotPropagate(t *testing.T) {
	fake := &chattest.Fake{EditErr: chat.ErrNotModified}
	r, _ := newTestReporter(fake)
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, nil, "x")

	assert.NotPanics(t, func() {
		tr.Report(context.Background(), 1, 2)
		tr.Status(context.Background(), "still fine")
	})
}

func TestFloodWaitSwallowed(t *testing.T) {
	fake := &chattest.Fake{EditErr: &chat.FloodWaitError{RetryAfter: 20 * time.Second}}
	r, _ := newTestReporter(fake)
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, nil, "x")

	assert.NotPanics(t, func() {
		tr.Status(context.Background(), "hello")
	})
}

func TestDetachDeletesPublicSurface(t *testing.T) {
	fake := &chattest.Fake{}
	r, _ := newTestReporter(fake)
	pub := &Surface{Chat: -100, Msg: 44}
	tr := r.Attach(Surface{Chat: 1, Msg: 10}, pub, "")

	tr.Detach(context.Background(), "✅ Done", true)

	dels := fake.CallsOf("DeleteMessage")
	require.Len(t, dels, 1)
	assert.Equal(t, chat.ChatID(-100), dels[0].Chat)
	assert.Equal(t, chat.MessageID(44), dels[0].Msg)

	edits := fake.CallsOf("EditMessageText")
	require.Len(t, edits, 1)
	assert.Equal(t, "✅ Done", edits[0].Text)
}
