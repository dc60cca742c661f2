// SPDX-License-Identifier: MIT

// Package router turns inbound chat updates into session and pipeline
// actions. All stateful operator interaction lives here: commands, staged
// uploads, the post menu and callback buttons.
package router

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/heavenlysubs/submux/internal/assets"
	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/feed"
	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/logtail"
	"github.com/heavenlysubs/submux/internal/session"
	"github.com/heavenlysubs/submux/internal/sharelink"
)

// Pipeline is the job-execution surface the router drives.
type Pipeline interface {
	Process(ctx context.Context, principal int64)
	ProcessURL(ctx context.Context, principal int64)
	Cancel(ctx context.Context, principal int64)
	Screenshot(ctx context.Context, principal int64) error
	ExtractEmbedded(ctx context.Context, principal int64) (string, error)
}

// Update is one inbound event; exactly one field is set.
type Update struct {
	Message  *chat.Message
	Callback *chat.Callback
}

// Options carries the router's collaborators.
type Options struct {
	Store    *session.Store
	Client   chat.Client
	Pipeline Pipeline
	Feed     *feed.Watcher // nil when no feed is configured
	Assets   *assets.Manager
	Tail     *logtail.Ring

	Owners    map[int64]struct{}
	DBChannel chat.ChatID
	WorkDir   string
	Workers   int
}

// Router dispatches updates.
type Router struct {
	store    *session.Store
	client   chat.Client
	pipeline Pipeline
	feed     *feed.Watcher
	assets   *assets.Manager
	tail     *logtail.Ring

	owners    map[int64]struct{}
	dbChannel chat.ChatID
	workDir   string
	workers   int

	// autoMode, when set, extracts the embedded subtitle track instead of
	// waiting for a subtitle upload.
	autoMode atomic.Bool
	logger   zerolog.Logger
}

// New wires a Router.
func New(opts Options) *Router {
	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}
	return &Router{
		store:     opts.Store,
		client:    opts.Client,
		pipeline:  opts.Pipeline,
		feed:      opts.Feed,
		assets:    opts.Assets,
		tail:      opts.Tail,
		owners:    opts.Owners,
		dbChannel: opts.DBChannel,
		workDir:   opts.WorkDir,
		workers:   workers,
		logger:    log.WithComponent("router"),
	}
}

// Run consumes updates with a fixed worker pool until the channel closes or
// ctx is cancelled.
func (r *Router) Run(ctx context.Context, updates <-chan Update) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-updates:
					if !ok {
						return
					}
					r.dispatch(ctx, u)
				}
			}
		}()
	}
	wg.Wait()
}

// dispatch routes one update, catching panics so a malformed update can
// never take the worker down.
func (r *Router) dispatch(ctx context.Context, u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("update handler panicked")
		}
	}()

	switch {
	case u.Message != nil:
		r.HandleMessage(ctx, *u.Message)
	case u.Callback != nil:
		r.HandleCallback(ctx, *u.Callback)
	}
}

func (r *Router) isOwner(id int64) bool {
	_, ok := r.owners[id]
	return ok
}

func (r *Router) reply(ctx context.Context, chatID chat.ChatID, text string) {
	if _, err := r.client.SendMessage(ctx, chatID, text, nil); err != nil {
		r.logger.Warn().Err(err).Int64("chat", int64(chatID)).Msg("reply failed")
	}
}

// HandleMessage routes one inbound message.
func (r *Router) HandleMessage(ctx context.Context, msg chat.Message) {
	if cmd, payload, ok := parseCommand(msg.Text); ok && cmd == "start" {
		r.handleStart(ctx, msg, payload)
		return
	}
	if !r.isOwner(msg.From) {
		// Non-operators only get the deep-link redemption above.
		return
	}

	if cmd, payload, ok := parseCommand(msg.Text); ok {
		r.handleCommand(ctx, msg, cmd, payload)
		return
	}
	r.handleStaged(ctx, msg)
}

// handleStart greets, or redeems a share token when a payload rides along.
// Redemption is the one flow open to everyone.
func (r *Router) handleStart(ctx context.Context, msg chat.Message, payload string) {
	if payload == "" {
		r.reply(ctx, msg.Chat, "👋 Hi! Send /help to see what I can do.")
		if sticker := r.assets.StickerID(); sticker != "" && r.isOwner(msg.From) {
			if err := r.client.SendSticker(ctx, msg.Chat, sticker); err != nil {
				r.logger.Debug().Err(err).Msg("greeting sticker failed")
			}
		}
		return
	}

	msgID, err := sharelink.Decode(payload, r.dbChannel)
	if err != nil {
		r.logger.Info().Err(err).Int64("from", msg.From).Msg("bad share token")
		r.reply(ctx, msg.Chat, "❌ That link is invalid or expired.")
		return
	}
	if _, err := r.client.CopyMessage(ctx, r.dbChannel, msgID, msg.Chat); err != nil {
		r.logger.Warn().Err(err).Int("msg", int(msgID)).Msg("share redemption failed")
		r.reply(ctx, msg.Chat, "❌ Could not deliver the file. Try again later.")
	}
}

const helpText = `Commands:
/merge — mux a video with a styled subtitle
/post — compose a channel post
/ddl <url> — ingest a direct download link
/mode — toggle automatic subtitle extraction
/feed on|off — toggle feed announcements
/cancel — abort the current session
/cleanup — abort your session and wipe its temp files
/logs [n|full] — show recent log lines, or the whole tail as a file
/ping — liveness check`

func (r *Router) handleCommand(ctx context.Context, msg chat.Message, cmd, payload string) {
	switch cmd {
	case "help":
		r.reply(ctx, msg.Chat, helpText)
	case "ping":
		r.reply(ctx, msg.Chat, "🏓 pong")
	case "merge":
		r.startMerge(ctx, msg)
	case "post":
		r.startPost(ctx, msg, "")
	case "ddl":
		url := strings.TrimSpace(payload)
		if !validURL(url) {
			r.reply(ctx, msg.Chat, "Usage: /ddl <http(s) url>")
			return
		}
		r.startPost(ctx, msg, url)
	case "mode":
		on := !r.autoMode.Load()
		r.autoMode.Store(on)
		if on {
			r.reply(ctx, msg.Chat, "🤖 Auto mode on: I will extract embedded subtitles myself.")
		} else {
			r.reply(ctx, msg.Chat, "✋ Auto mode off: send subtitles manually.")
		}
	case "feed":
		r.handleFeed(ctx, msg, payload)
	case "cancel":
		if !r.store.Exists(msg.From) {
			r.reply(ctx, msg.Chat, "Nothing to cancel.")
			return
		}
		r.pipeline.Cancel(ctx, msg.From)
		r.reply(ctx, msg.Chat, "🛑 Session cancelled.")
	case "cleanup":
		if !r.store.Exists(msg.From) {
			r.reply(ctx, msg.Chat, "Nothing to clean up.")
			return
		}
		r.pipeline.Cancel(ctx, msg.From)
		r.reply(ctx, msg.Chat, "🧹 Session cleaned up and temp files removed.")
	case "logs":
		r.handleLogs(ctx, msg, payload)
	default:
		r.reply(ctx, msg.Chat, "Unknown command. /help lists everything.")
	}
}

func (r *Router) handleFeed(ctx context.Context, msg chat.Message, payload string) {
	if r.feed == nil {
		r.reply(ctx, msg.Chat, "No feed is configured.")
		return
	}
	switch strings.TrimSpace(payload) {
	case "on":
		r.feed.SetEnabled(true)
		r.reply(ctx, msg.Chat, "📡 Feed announcements on.")
	case "off":
		r.feed.SetEnabled(false)
		r.reply(ctx, msg.Chat, "📴 Feed announcements off.")
	default:
		state := "off"
		if r.feed.Enabled() {
			state = "on"
		}
		r.reply(ctx, msg.Chat, "Feed announcements are "+state+". Use /feed on or /feed off.")
	}
}

func (r *Router) handleLogs(ctx context.Context, msg chat.Message, payload string) {
	n := 20
	if v := strings.TrimSpace(payload); v != "" {
		// "full" ships the whole retained tail as a document.
		if strings.EqualFold(v, "full") {
			path := fmt.Sprintf("%s/logs_%d.txt", r.workDir, msg.From)
			if err := os.WriteFile(path, []byte(r.tail.Dump()), 0o600); err != nil {
				r.reply(ctx, msg.Chat, "❌ Could not assemble the log file.")
				return
			}
			defer func() { _ = os.Remove(path) }()
			if _, err := r.client.SendDocument(ctx, msg.Chat, path, "daemon logs", "", nil); err != nil {
				r.reply(ctx, msg.Chat, "❌ Could not send the log file.")
			}
			return
		}
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
			r.reply(ctx, msg.Chat, "Usage: /logs [count|full]")
			return
		}
	}
	lines := r.tail.LastN(n)
	if len(lines) == 0 {
		r.reply(ctx, msg.Chat, "No log lines captured yet.")
		return
	}
	r.reply(ctx, msg.Chat, strings.Join(lines, "\n"))
}

// startMerge opens the staged upload flow.
func (r *Router) startMerge(ctx context.Context, msg chat.Message) {
	if _, err := r.store.Create(msg.From, session.StageAwaitingVideo); err != nil {
		r.reply(ctx, msg.Chat, "You already have an active session. /cancel it first.")
		return
	}
	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.PrivateChat = msg.Chat
		return nil
	})
	r.reply(ctx, msg.Chat, "🎬 Send me the video (file or direct upload).")
}

// startPost opens the metadata-gathering flow, optionally pre-seeding the
// download link.
func (r *Router) startPost(ctx context.Context, msg chat.Message, ddl string) {
	if _, err := r.store.Create(msg.From, session.StageGatheringMetadata); err != nil {
		r.reply(ctx, msg.Chat, "You already have an active session. /cancel it first.")
		return
	}
	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.PrivateChat = msg.Chat
		if ddl != "" {
			s.Meta[session.MetaDDLURL] = ddl
		}
		return nil
	})
	r.sendMenu(ctx, msg.Chat, msg.From)
}

// stage hints shown when input does not fit the current stage.
var stageHints = map[session.Stage]string{
	session.StageAwaitingVideo:     "I need a video file right now.",
	session.StageAwaitingSubtitle:  "I need a subtitle file (.ass, .srt or .vtt).",
	session.StageAwaitingName:      "Send the output file name as text.",
	session.StageAwaitingThumbnail: "Send a thumbnail photo, or \"skip\".",
	session.StageProcessing:        "Hang on, still processing. /cancel to abort.",
	session.StageUploading:         "Hang on, still uploading. /cancel to abort.",
}

func (r *Router) hint(ctx context.Context, chatID chat.ChatID, stage session.Stage) {
	if h, ok := stageHints[stage]; ok {
		r.reply(ctx, chatID, h)
	}
}

// handleStaged feeds a non-command message into the principal's session.
func (r *Router) handleStaged(ctx context.Context, msg chat.Message) {
	var stage session.Stage
	if err := r.store.View(msg.From, func(s *session.Session) { stage = s.Stage }); err != nil {
		return
	}

	switch stage {
	case session.StageAwaitingVideo:
		r.acceptVideo(ctx, msg)
	case session.StageAwaitingSubtitle:
		r.acceptSubtitle(ctx, msg)
	case session.StageAwaitingName:
		r.acceptName(ctx, msg)
	case session.StageAwaitingThumbnail:
		r.acceptThumbnail(ctx, msg)
	case session.StageGatheringMetadata:
		r.acceptMetaValue(ctx, msg)
	default:
		r.hint(ctx, msg.Chat, stage)
	}
}

// videoFile classifies the message's attachment as a video, if any.
func videoFile(msg chat.Message) *chat.FileInfo {
	if msg.Video != nil {
		return msg.Video
	}
	if d := msg.Document; d != nil {
		lower := strings.ToLower(d.Name)
		if strings.HasPrefix(d.MIME, "video/") ||
			strings.HasSuffix(lower, ".mkv") || strings.HasSuffix(lower, ".mp4") {
			return d
		}
	}
	return nil
}

func subtitleFile(msg chat.Message) *chat.FileInfo {
	if d := msg.Document; d != nil {
		lower := strings.ToLower(d.Name)
		for _, ext := range []string{".ass", ".srt", ".vtt"} {
			if strings.HasSuffix(lower, ext) {
				return d
			}
		}
	}
	return nil
}

func fontFile(msg chat.Message) *chat.FileInfo {
	if d := msg.Document; d != nil {
		lower := strings.ToLower(d.Name)
		if strings.HasSuffix(lower, ".ttf") || strings.HasSuffix(lower, ".otf") {
			return d
		}
	}
	return nil
}

func (r *Router) acceptVideo(ctx context.Context, msg chat.Message) {
	file := videoFile(msg)
	if file == nil {
		r.hint(ctx, msg.Chat, session.StageAwaitingVideo)
		return
	}

	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.VideoFileID = file.FileID
		return s.Advance(session.StageAwaitingSubtitle)
	})

	if r.autoMode.Load() {
		r.autoSubtitle(ctx, msg)
		return
	}
	r.reply(ctx, msg.Chat, "📝 Got it. Now send the subtitle file (.ass, .srt or .vtt).")
}

// autoSubtitle downloads the video now and extracts its embedded subtitle
// track, skipping the manual subtitle step. Falls back to asking when the
// video has none.
func (r *Router) autoSubtitle(ctx context.Context, msg chat.Message) {
	r.reply(ctx, msg.Chat, "🤖 Auto mode: fetching the video to extract its subtitles...")

	dest := fmt.Sprintf("%s/vid_%d.tmp", r.workDir, msg.From)
	var fileID string
	_ = r.store.View(msg.From, func(s *session.Session) { fileID = s.VideoFileID })

	path, err := r.client.DownloadMedia(ctx, fileID, dest, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("auto mode video download failed")
		r.store.Terminate(msg.From, "failed", nil)
		r.reply(ctx, msg.Chat, "❌ Could not fetch the video. Session closed.")
		return
	}
	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.VideoPath = path
		s.Own(path)
		return nil
	})

	sub, err := r.pipeline.ExtractEmbedded(ctx, msg.From)
	if err != nil {
		r.logger.Info().Err(err).Msg("no embedded subtitle track")
		r.store.Terminate(msg.From, "failed", nil)
		r.reply(ctx, msg.Chat, "❌ No embedded subtitles found. Session closed.")
		return
	}

	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.SubtitlePath = sub
		return s.Advance(session.StageAwaitingName)
	})
	r.reply(ctx, msg.Chat, "✅ Subtitles extracted. Now send the output file name.")
}

func (r *Router) acceptSubtitle(ctx context.Context, msg chat.Message) {
	// A font upload at this stage overrides the default attachment for the
	// session; the stage does not advance.
	if font := fontFile(msg); font != nil {
		dest := fmt.Sprintf("%s/font_%d%s", r.workDir, msg.From, strings.ToLower(font.Name[strings.LastIndex(font.Name, "."):]))
		path, err := r.client.DownloadMedia(ctx, font.FileID, dest, nil)
		if err != nil {
			r.reply(ctx, msg.Chat, "❌ Could not download the font. Send it again.")
			return
		}
		_ = r.store.Mutate(msg.From, func(s *session.Session) error {
			s.FontPath = path
			s.Own(path)
			return nil
		})
		r.reply(ctx, msg.Chat, "🔤 Custom font saved. Now send the subtitle file.")
		return
	}

	file := subtitleFile(msg)
	if file == nil {
		r.hint(ctx, msg.Chat, session.StageAwaitingSubtitle)
		return
	}

	dest := fmt.Sprintf("%s/sub_%d%s", r.workDir, msg.From, strings.ToLower(file.Name[strings.LastIndex(file.Name, "."):]))
	path, err := r.client.DownloadMedia(ctx, file.FileID, dest, nil)
	if err != nil {
		r.reply(ctx, msg.Chat, "❌ Could not download the subtitle. Send it again.")
		return
	}

	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.SubtitlePath = path
		s.Own(path)
		return s.Advance(session.StageAwaitingName)
	})
	r.reply(ctx, msg.Chat, "🏷 Now send the output file name.")
}

func (r *Router) acceptName(ctx context.Context, msg chat.Message) {
	name := strings.TrimSpace(msg.Text)
	if name == "" {
		r.hint(ctx, msg.Chat, session.StageAwaitingName)
		return
	}
	// Stored without the container extension; the pipeline appends it when
	// naming the artifact, and the upload caption stays the bare name.
	if strings.HasSuffix(strings.ToLower(name), ".mkv") {
		name = name[:len(name)-len(".mkv")]
	}

	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.OutputName = name
		return s.Advance(session.StageAwaitingThumbnail)
	})
	r.reply(ctx, msg.Chat, "🖼 Send a thumbnail photo, or \"skip\" to use the default.")
}

func (r *Router) acceptThumbnail(ctx context.Context, msg chat.Message) {
	if msg.Photo != nil {
		dest := fmt.Sprintf("%s/thumb_%d.jpg", r.workDir, msg.From)
		path, err := r.client.DownloadMedia(ctx, msg.Photo.FileID, dest, nil)
		if err != nil {
			r.reply(ctx, msg.Chat, "❌ Could not download the thumbnail. Send it again or \"skip\".")
			return
		}
		_ = r.store.Mutate(msg.From, func(s *session.Session) error {
			s.ThumbnailPath = path
			s.Own(path)
			return nil
		})
	} else if !strings.EqualFold(strings.TrimSpace(msg.Text), "skip") {
		r.hint(ctx, msg.Chat, session.StageAwaitingThumbnail)
		return
	}

	r.sendActionMenu(ctx, msg.Chat, msg.From)
}

// sendActionMenu offers the final choices for a staged merge session.
func (r *Router) sendActionMenu(ctx context.Context, chatID chat.ChatID, principal int64) {
	markup := chat.Markup{
		{{Text: "▶️ Merge", Data: callbackData(actionMerge, principal)}},
		{
			{Text: "📸 Screenshot", Data: callbackData(actionScreenshot, principal)},
			{Text: "📜 Extract subs", Data: callbackData(actionExtract, principal)},
		},
		{{Text: "🛑 Cancel", Data: callbackData(actionCancel, principal)}},
	}
	if _, err := r.client.SendMessage(ctx, chatID, "Everything is staged. What next?", markup); err != nil {
		r.logger.Warn().Err(err).Msg("action menu failed")
	}
}
