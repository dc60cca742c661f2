// SPDX-License-Identifier: MIT

package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavenlysubs/submux/internal/assets"
	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/chat/chattest"
	"github.com/heavenlysubs/submux/internal/logtail"
	"github.com/heavenlysubs/submux/internal/session"
	"github.com/heavenlysubs/submux/internal/sharelink"
)

const (
	owner     = int64(1000)
	stranger  = int64(2000)
	dbChannel = chat.ChatID(-100200300)
)

// fakePipeline records invocations.
type fakePipeline struct {
	mu        sync.Mutex
	calls     []string
	cancelled []int64
	subPath   string
	shotErr   error
	subErr    error
}

func (f *fakePipeline) note(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakePipeline) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePipeline) Process(_ context.Context, _ int64)    { f.note("process") }
func (f *fakePipeline) ProcessURL(_ context.Context, _ int64) { f.note("process_url") }

func (f *fakePipeline) Cancel(_ context.Context, id int64) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
	f.note("cancel")
}
func (f *fakePipeline) Screenshot(_ context.Context, _ int64) error {
	f.note("screenshot")
	return f.shotErr
}
func (f *fakePipeline) ExtractEmbedded(_ context.Context, _ int64) (string, error) {
	f.note("extract")
	return f.subPath, f.subErr
}

type fixture struct {
	router *Router
	store  *session.Store
	fake   *chattest.Fake
	pipe   *fakePipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := &chattest.Fake{}
	store := session.NewStore()
	pipe := &fakePipeline{subPath: "/tmp/sub.ass"}
	r := New(Options{
		Store:     store,
		Client:    fake,
		Pipeline:  pipe,
		Assets:    assets.New("", "", ""),
		Tail:      logtail.New(16),
		Owners:    map[int64]struct{}{owner: {}},
		DBChannel: dbChannel,
		WorkDir:   t.TempDir(),
		Workers:   1,
	})
	return &fixture{router: r, store: store, fake: fake, pipe: pipe}
}

func ownerText(text string) chat.Message {
	return chat.Message{ID: 1, Chat: chat.ChatID(owner), From: owner, Text: text}
}

func (f *fixture) lastReply(t *testing.T) string {
	t.Helper()
	sends := f.fake.CallsOf("SendMessage")
	require.NotEmpty(t, sends)
	return sends[len(sends)-1].Text
}

func TestParseCommand(t *testing.T) {
	cmd, payload, ok := parseCommand("/ddl  https://x/y ")
	require.True(t, ok)
	assert.Equal(t, "ddl", cmd)
	assert.Equal(t, "https://x/y", payload)

	cmd, _, ok = parseCommand("/ping@submuxbot")
	require.True(t, ok)
	assert.Equal(t, "ping", cmd)

	_, _, ok = parseCommand("hello")
	assert.False(t, ok)
	_, _, ok = parseCommand("/")
	assert.False(t, ok)
}

func TestParseCallback(t *testing.T) {
	action, principal, err := parseCallback("set_cover_url_42")
	require.NoError(t, err)
	assert.Equal(t, "set_cover_url", action)
	assert.Equal(t, int64(42), principal)

	_, _, err = parseCallback("merge_")
	assert.Error(t, err)
	_, _, err = parseCallback("nounderscore")
	assert.Error(t, err)
}

func TestValidateMeta(t *testing.T) {
	assert.NoError(t, validateMeta(session.MetaRating, "95"))
	assert.Error(t, validateMeta(session.MetaRating, "101"))
	assert.Error(t, validateMeta(session.MetaRating, "9.5"))
	assert.NoError(t, validateMeta(session.MetaEpisode, "12"))
	assert.Error(t, validateMeta(session.MetaEpisode, "twelve"))
	assert.NoError(t, validateMeta(session.MetaCoverURL, "https://img/x.jpg"))
	assert.Error(t, validateMeta(session.MetaCoverURL, "file:///etc/passwd"))
	assert.Error(t, validateMeta(session.MetaTitle, "  "))
}

func TestNonOwnerIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), chat.Message{Chat: chat.ChatID(stranger), From: stranger, Text: "/merge"})
	assert.Empty(t, f.fake.Calls())
	assert.False(t, f.store.Exists(stranger))
}

func TestStartRedeemsTokenForAnyone(t *testing.T) {
	f := newFixture(t)
	token, err := sharelink.Mint(42, dbChannel)
	require.NoError(t, err)

	f.router.HandleMessage(context.Background(), chat.Message{
		Chat: chat.ChatID(stranger), From: stranger, Text: "/start " + token,
	})

	copies := f.fake.CallsOf("CopyMessage")
	require.Len(t, copies, 1)
	assert.Equal(t, chat.MessageID(42), copies[0].Msg)
	assert.Equal(t, chat.ChatID(stranger), copies[0].Chat)
}

func TestStartRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), chat.Message{
		Chat: chat.ChatID(stranger), From: stranger, Text: "/start bogus!!!",
	})
	assert.Empty(t, f.fake.CallsOf("CopyMessage"))
	assert.Contains(t, f.lastReply(t), "invalid")
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), ownerText("/ping"))
	assert.Equal(t, "🏓 pong", f.lastReply(t))
}

func TestMergeCreatesSessionOnce(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), ownerText("/merge"))
	assert.True(t, f.store.Exists(owner))

	f.router.HandleMessage(context.Background(), ownerText("/merge"))
	assert.Contains(t, f.lastReply(t), "already have an active session")
}

func TestModeToggles(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), ownerText("/mode"))
	assert.True(t, f.router.autoMode.Load())
	f.router.HandleMessage(context.Background(), ownerText("/mode"))
	assert.False(t, f.router.autoMode.Load())
}

func TestLogsCommand(t *testing.T) {
	f := newFixture(t)
	_, _ = f.router.tail.Write([]byte("line one\nline two\n"))
	f.router.HandleMessage(context.Background(), ownerText("/logs 5"))
	reply := f.lastReply(t)
	assert.Contains(t, reply, "line one")
	assert.Contains(t, reply, "line two")
}

func TestLogsFullShipsDocument(t *testing.T) {
	f := newFixture(t)
	_, _ = f.router.tail.Write([]byte("line one\n"))
	f.router.HandleMessage(context.Background(), ownerText("/logs full"))

	docs := f.fake.CallsOf("SendDocument")
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Path, "logs_")
}

func TestStagedMergeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/merge"))

	// Wrong input at the video stage earns a hint.
	f.router.HandleMessage(ctx, ownerText("hello"))
	assert.Contains(t, f.lastReply(t), "video")

	f.router.HandleMessage(ctx, chat.Message{
		Chat: chat.ChatID(owner), From: owner,
		Document: &chat.FileInfo{FileID: "vid-1", Name: "episode.mkv", MIME: "video/x-matroska"},
	})

	f.router.HandleMessage(ctx, chat.Message{
		Chat: chat.ChatID(owner), From: owner,
		Document: &chat.FileInfo{FileID: "sub-1", Name: "episode.ass"},
	})
	assert.NotEmpty(t, f.fake.CallsOf("DownloadMedia"))

	f.router.HandleMessage(ctx, ownerText("My Release.mkv"))
	f.router.HandleMessage(ctx, ownerText("skip"))

	var snap session.Session
	require.NoError(t, f.store.View(owner, func(s *session.Session) { snap = *s }))
	assert.Equal(t, session.StageAwaitingThumbnail, snap.Stage)
	assert.Equal(t, "My Release", snap.OutputName, "extension is stripped; the pipeline appends it")
	assert.Empty(t, snap.Caption, "caption defaults at upload time")
	assert.Equal(t, "vid-1", snap.VideoFileID)
	assert.NotEmpty(t, snap.SubtitlePath)

	// The action menu is the last send, with the merge button.
	sends := f.fake.CallsOf("SendMessage")
	last := sends[len(sends)-1]
	require.NotEmpty(t, last.Markup)
	assert.Contains(t, last.Markup[0][0].Data, "merge_")
}

func TestFontUploadOverridesDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/merge"))
	f.router.HandleMessage(ctx, chat.Message{
		Chat: chat.ChatID(owner), From: owner,
		Video: &chat.FileInfo{FileID: "vid-1", Name: "ep.mkv", MIME: "video/x-matroska"},
	})
	f.router.HandleMessage(ctx, chat.Message{
		Chat: chat.ChatID(owner), From: owner,
		Document: &chat.FileInfo{FileID: "font-1", Name: "Custom.otf"},
	})

	var snap session.Session
	require.NoError(t, f.store.View(owner, func(s *session.Session) { snap = *s }))
	assert.Contains(t, snap.FontPath, "font_")
	assert.Equal(t, session.StageAwaitingSubtitle, snap.Stage, "font upload must not advance the stage")
}

func TestAutoModeExtractsEmbeddedSubtitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/mode"))
	f.router.HandleMessage(ctx, ownerText("/merge"))
	f.router.HandleMessage(ctx, chat.Message{
		Chat: chat.ChatID(owner), From: owner,
		Video: &chat.FileInfo{FileID: "vid-1", Name: "ep.mkv", MIME: "video/x-matroska"},
	})

	assert.Contains(t, f.pipe.seen(), "extract")
	var snap session.Session
	require.NoError(t, f.store.View(owner, func(s *session.Session) { snap = *s }))
	assert.Equal(t, session.StageAwaitingName, snap.Stage)
	assert.Equal(t, "/tmp/sub.ass", snap.SubtitlePath)
}

func TestAutoModeFailsSessionWithoutEmbeddedTrack(t *testing.T) {
	f := newFixture(t)
	f.pipe.subErr = errors.New("no subtitle stream")
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/mode"))
	f.router.HandleMessage(ctx, ownerText("/merge"))
	f.router.HandleMessage(ctx, chat.Message{
		Chat: chat.ChatID(owner), From: owner,
		Video: &chat.FileInfo{FileID: "vid-1", Name: "ep.mkv", MIME: "video/x-matroska"},
	})

	assert.False(t, f.store.Exists(owner))
	assert.Contains(t, f.lastReply(t), "No embedded subtitles")
}

func TestMergeCallbackStartsPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(owner, session.StageAwaitingVideo)
	require.NoError(t, err)

	f.router.HandleCallback(ctx, chat.Callback{
		ID: "cb1", From: owner, Chat: chat.ChatID(owner), Data: callbackData(actionMerge, owner),
	})

	assert.Eventually(t, func() bool {
		for _, c := range f.pipe.seen() {
			if c == "process" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	var statusMsg chat.MessageID
	require.NoError(t, f.store.View(owner, func(s *session.Session) { statusMsg = s.StatusMsg }))
	assert.NotZero(t, statusMsg)
}

func TestCallbackOwnerGate(t *testing.T) {
	f := newFixture(t)
	f.router.HandleCallback(context.Background(), chat.Callback{
		ID: "cb1", From: stranger, Data: callbackData(actionMerge, owner),
	})
	assert.Empty(t, f.pipe.seen())
	answers := f.fake.CallsOf("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0].Text, "not for you")
}

func TestCallbackDeadSession(t *testing.T) {
	f := newFixture(t)
	f.router.HandleCallback(context.Background(), chat.Callback{
		ID: "cb1", From: owner, Data: callbackData(actionMerge, owner),
	})
	answers := f.fake.CallsOf("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0].Text, "gone")
}

func TestPostMenuFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/ddl https://host/file.mkv"))
	require.True(t, f.store.Exists(owner))

	// Create Post is gated until the title exists.
	f.router.HandleCallback(ctx, chat.Callback{
		ID: "cb1", From: owner, Chat: chat.ChatID(owner), Data: callbackData(actionCreatePost, owner),
	})
	answers := f.fake.CallsOf("AnswerCallback")
	require.NotEmpty(t, answers)
	assert.Contains(t, answers[len(answers)-1].Text, "required")

	// Fill the title via the menu.
	f.router.HandleCallback(ctx, chat.Callback{
		ID: "cb2", From: owner, Chat: chat.ChatID(owner), Data: callbackData("set_title", owner),
	})
	f.router.HandleMessage(ctx, ownerText("Battle"))

	var title string
	require.NoError(t, f.store.View(owner, func(s *session.Session) { title = s.Meta[session.MetaTitle] }))
	assert.Equal(t, "Battle", title)

	// Menu re-render marks the field as filled.
	sends := f.fake.CallsOf("SendMessage")
	menu := sends[len(sends)-1]
	require.NotEmpty(t, menu.Markup)
	assert.Equal(t, "✅ Title", menu.Markup[0][0].Text)

	// Now the post can start.
	f.router.HandleCallback(ctx, chat.Callback{
		ID: "cb3", From: owner, Chat: chat.ChatID(owner), Data: callbackData(actionCreatePost, owner),
	})
	assert.Eventually(t, func() bool {
		for _, c := range f.pipe.seen() {
			if c == "process_url" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestMetaValidationRejectsBadRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/post"))
	f.router.HandleCallback(ctx, chat.Callback{
		ID: "cb1", From: owner, Chat: chat.ChatID(owner), Data: callbackData("set_rating", owner),
	})
	f.router.HandleMessage(ctx, ownerText("150"))

	assert.Contains(t, f.lastReply(t), "between 0 and 100")
	var rating string
	require.NoError(t, f.store.View(owner, func(s *session.Session) { rating = s.Meta[session.MetaRating] }))
	assert.Empty(t, rating)
}

func TestCancelCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/cancel"))
	assert.Equal(t, "Nothing to cancel.", f.lastReply(t))

	_, err := f.store.Create(owner, session.StageAwaitingVideo)
	require.NoError(t, err)
	f.router.HandleMessage(ctx, ownerText("/cancel"))
	assert.Contains(t, f.pipe.seen(), "cancel")
}

func TestCleanupScopedToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, ownerText("/cleanup"))
	assert.Equal(t, "Nothing to clean up.", f.lastReply(t))

	_, err := f.store.Create(owner, session.StageAwaitingVideo)
	require.NoError(t, err)
	_, err = f.store.Create(stranger, session.StageAwaitingVideo)
	require.NoError(t, err)

	f.router.HandleMessage(ctx, ownerText("/cleanup"))

	assert.Equal(t, []int64{owner}, f.pipe.cancelled, "only the caller's session is torn down")
	assert.True(t, f.store.Exists(stranger), "other principals' sessions survive")
	assert.Contains(t, f.lastReply(t), "cleaned up")
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	// A nil tail would panic in /logs; dispatch must swallow it.
	f.router.tail = nil
	assert.NotPanics(t, func() {
		f.router.dispatch(context.Background(), Update{Message: &chat.Message{
			Chat: chat.ChatID(owner), From: owner, Text: "/logs",
		}})
	})
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t)
	updates := make(chan Update)
	done := make(chan struct{})
	go func() {
		f.router.Run(context.Background(), updates)
		close(done)
	}()

	updates <- Update{Message: &chat.Message{Chat: chat.ChatID(owner), From: owner, Text: "/ping"}}
	close(updates)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Equal(t, "🏓 pong", f.lastReply(t))
}
