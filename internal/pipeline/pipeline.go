// SPDX-License-Identifier: MIT

// Package pipeline runs the end-to-end media jobs: fetch the video, rework
// the subtitle, mux, upload to the archive channel and announce the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/heavenlysubs/submux/internal/aria2"
	"github.com/heavenlysubs/submux/internal/assets"
	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/mediatool"
	"github.com/heavenlysubs/submux/internal/metrics"
	"github.com/heavenlysubs/submux/internal/post"
	"github.com/heavenlysubs/submux/internal/progress"
	"github.com/heavenlysubs/submux/internal/session"
	"github.com/heavenlysubs/submux/internal/sharelink"
	"github.com/heavenlysubs/submux/internal/subtitle"
)

// MediaOps is the media tool surface the pipeline drives.
type MediaOps interface {
	StripSubtitles(ctx context.Context, in, out string) error
	Mux(ctx context.Context, video, sub, font, out string) error
	ConvertSubtitle(ctx context.Context, in, out string) error
	ExtractFrame(ctx context.Context, video, out string) error
	ExtractSubtitle(ctx context.Context, video, out string) error
}

// Fetcher is the direct-link download surface.
type Fetcher interface {
	Fetch(ctx context.Context, url string, report func(aria2.Sample)) (string, error)
}

// Options carries the orchestrator's collaborators and fixed parameters.
type Options struct {
	Store    *session.Store
	Client   chat.Client
	Reporter *progress.Reporter
	Ops      MediaOps
	Fetcher  Fetcher
	Assets   *assets.Manager

	DBChannel   chat.ChatID
	MainChannel chat.ChatID // 0 disables the public surface and announcements
	LogChannel  chat.ChatID // failure notices are mirrored here when non-zero
	BotUsername string
	WorkDir     string
	DisplayFont string
	// MuxPermits bounds concurrent media tool work. Downloads and uploads
	// are not gated; only CPU/IO-heavy processing is.
	MuxPermits int64
	// UploadTimeout caps a single document upload. Zero means 30 minutes.
	UploadTimeout time.Duration
}

// Orchestrator executes pipeline runs for sessions.
type Orchestrator struct {
	store    *session.Store
	client   chat.Client
	reporter *progress.Reporter
	ops      MediaOps
	fetcher  Fetcher
	assets   *assets.Manager
	builder  post.Builder

	dbChannel     chat.ChatID
	mainChannel   chat.ChatID
	logChannel    chat.ChatID
	botUsername   string
	workDir       string
	displayFont   string
	uploadTimeout time.Duration
	sem           *semaphore.Weighted
	logger        zerolog.Logger
}

// New wires an Orchestrator.
func New(opts Options) *Orchestrator {
	permits := opts.MuxPermits
	if permits < 1 {
		permits = 1
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		store:         opts.Store,
		client:        opts.Client,
		reporter:      opts.Reporter,
		ops:           opts.Ops,
		fetcher:       opts.Fetcher,
		assets:        opts.Assets,
		builder:       post.Builder{ShortSynopsis: true},
		dbChannel:     opts.DBChannel,
		mainChannel:   opts.MainChannel,
		logChannel:    opts.LogChannel,
		botUsername:   opts.BotUsername,
		workDir:       opts.WorkDir,
		displayFont:   opts.DisplayFont,
		uploadTimeout: uploadTimeout,
		sem:           semaphore.NewWeighted(permits),
		logger:        log.WithComponent("pipeline"),
	}
}

func (o *Orchestrator) path(principal int64, pattern string) string {
	return filepath.Join(o.workDir, fmt.Sprintf(pattern, principal))
}

// begin moves the session into processing, installs the cancel handle and
// returns a snapshot plus the attached progress tracker.
func (o *Orchestrator) begin(ctx context.Context, principal int64, action string) (context.Context, session.Session, *progress.Tracker, error) {
	runCtx, cancel := context.WithCancel(ctx)

	var snap session.Session
	err := o.store.Mutate(principal, func(s *session.Session) error {
		if err := s.Advance(session.StageProcessing); err != nil {
			return err
		}
		s.Cancel = cancel
		snap = *s
		return nil
	})
	if err != nil {
		cancel()
		return nil, session.Session{}, nil, err
	}
	metrics.StageTransitions.WithLabelValues(session.StageProcessing.String()).Inc()

	var public *progress.Surface
	if o.mainChannel != 0 {
		if id, err := o.client.SendMessage(runCtx, o.mainChannel, "Status: "+action, nil); err == nil {
			public = &progress.Surface{Chat: o.mainChannel, Msg: id}
			_ = o.store.Mutate(principal, func(s *session.Session) error {
				s.PublicMsg = id
				return nil
			})
		} else {
			o.logger.Warn().Err(err).Msg("cannot open public status surface")
		}
	}

	tracker := o.reporter.Attach(progress.Surface{Chat: snap.PrivateChat, Msg: snap.StatusMsg}, public, action)
	return runCtx, snap, tracker, nil
}

// Process runs the merge path: local video + subtitle in, muxed file out.
func (o *Orchestrator) Process(ctx context.Context, principal int64) {
	logger := log.WithPrincipal("pipeline", principal)

	ctx, snap, tracker, err := o.begin(ctx, principal, "⚙️ Processing")
	if err != nil {
		logger.Error().Err(err).Msg("cannot start processing")
		return
	}

	videoPath := snap.VideoPath
	if videoPath == "" {
		tracker.SetAction("📥 Downloading")
		videoPath = o.path(principal, "vid_%d.tmp")
		o.ownFile(principal, videoPath)
		got, err := o.client.DownloadMedia(ctx, snap.VideoFileID, videoPath, func(cur, tot int64) {
			tracker.Report(ctx, cur, tot)
		})
		if err != nil {
			o.fail(ctx, principal, tracker, fmt.Errorf("downloading video: %w", err))
			return
		}
		videoPath = got
	}

	subPath := snap.SubtitlePath
	outPath := o.path(principal, "out_%d.mkv")
	o.ownFile(principal, outPath)

	// Strip and mux hold one processing permit between them so parallel
	// sessions cannot double up on heavy media work.
	tracker.Status(ctx, "⏳ Waiting for a processing slot")
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(ctx, principal, tracker, err)
		return
	}
	err = func() error {
		defer o.sem.Release(1)
		tracker.SetAction("⚙️ Processing")
		tracker.Status(ctx, "⚙️ Preparing subtitle")

		if subtitle.Foreign(subPath) {
			converted := o.path(principal, "sub_%d.ass")
			o.ownFile(principal, converted)
			if err := o.ops.ConvertSubtitle(ctx, subPath, converted); err != nil {
				return fmt.Errorf("converting subtitle: %w", err)
			}
			subPath = converted
		}
		if err := subtitle.Normalize(subPath, o.displayFont); err != nil {
			return err
		}

		stripped := o.path(principal, "strip_%d.mkv")
		o.ownFile(principal, stripped)
		tracker.Status(ctx, "⚙️ Removing embedded subtitles")
		if err := o.ops.StripSubtitles(ctx, videoPath, stripped); err != nil {
			return err
		}

		tracker.Status(ctx, "⚙️ Muxing")
		font := snap.FontPath
		if font == "" {
			font = o.assets.Font()
		}
		if font == "" {
			return errors.New("display font unavailable")
		}
		if err := o.ops.Mux(ctx, stripped, subPath, font, outPath); err != nil {
			return err
		}
		return checkOutput(outPath)
	}()
	if err != nil {
		o.fail(ctx, principal, tracker, err)
		return
	}

	o.finish(ctx, principal, tracker, outPath)
}

// ProcessURL runs the ingest path: fetch a direct link, upload it as-is and
// announce with the gathered metadata. No muxing happens here.
func (o *Orchestrator) ProcessURL(ctx context.Context, principal int64) {
	logger := log.WithPrincipal("pipeline", principal)

	ctx, snap, tracker, err := o.begin(ctx, principal, "📥 Downloading")
	if err != nil {
		logger.Error().Err(err).Msg("cannot start url ingest")
		return
	}

	url := snap.Meta[session.MetaDDLURL]
	if url == "" {
		o.fail(ctx, principal, tracker, errors.New("no download link on session"))
		return
	}

	path, err := o.fetcher.Fetch(ctx, url, func(s aria2.Sample) {
		tracker.Report(ctx, s.Completed, s.Total)
	})
	if err != nil {
		o.fail(ctx, principal, tracker, err)
		return
	}
	o.ownFile(principal, path)

	if err := checkOutput(path); err != nil {
		o.fail(ctx, principal, tracker, err)
		return
	}

	o.finish(ctx, principal, tracker, path)
}

// finish uploads the artifact, mints the share link and announces. Shared
// tail of both pipeline paths.
func (o *Orchestrator) finish(ctx context.Context, principal int64, tracker *progress.Tracker, artifact string) {
	var snap session.Session
	err := o.store.Mutate(principal, func(s *session.Session) error {
		if err := s.Advance(session.StageUploading); err != nil {
			return err
		}
		snap = *s
		return nil
	})
	if err != nil {
		o.fail(ctx, principal, tracker, err)
		return
	}
	metrics.StageTransitions.WithLabelValues(session.StageUploading.String()).Inc()

	// Rename so the uploaded document carries the operator's chosen name.
	// The name is raw operator text; reduce it to its base so it cannot
	// point outside the work directory.
	if snap.OutputName != "" {
		named := filepath.Join(filepath.Dir(artifact), filepath.Base(snap.OutputName)+".mkv")
		if named != artifact {
			if err := os.Rename(artifact, named); err == nil {
				artifact = named
				o.ownFile(principal, named)
			}
		}
	}

	tracker.SetAction("📤 Uploading")
	if snap.Caption == "" {
		snap.Caption = snap.OutputName
	}
	if snap.Caption == "" {
		snap.Caption = snap.Meta[session.MetaTitle]
	}
	thumb := snap.ThumbnailPath
	if thumb == "" {
		thumb = o.assets.Thumbnail()
	}
	upCtx, cancelUpload := context.WithTimeout(ctx, o.uploadTimeout)
	msgID, err := o.client.SendDocument(upCtx, o.dbChannel, artifact, snap.Caption, thumb, func(cur, tot int64) {
		tracker.Report(upCtx, cur, tot)
	})
	cancelUpload()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		o.fail(ctx, principal, tracker, fmt.Errorf("uploading: %w", err))
		return
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()

	token, err := sharelink.Mint(msgID, o.dbChannel)
	if err != nil {
		o.fail(ctx, principal, tracker, err)
		return
	}
	shareURL := sharelink.URL(o.botUsername, token)

	if _, err := o.client.SendMessage(ctx, snap.PrivateChat, "🔗 "+shareURL, nil); err != nil {
		o.logger.Warn().Err(err).Int64("principal", principal).Msg("cannot deliver share link")
	}

	o.announce(ctx, snap, shareURL)

	_ = o.store.Mutate(principal, func(s *session.Session) error {
		return s.Advance(session.StageDone)
	})
	metrics.StageTransitions.WithLabelValues(session.StageDone.String()).Inc()

	tracker.Detach(ctx, "✅ Done", true)
	o.store.Terminate(principal, "success", nil)
}

// announce publishes the formatted post to the main channel when it is
// configured and a title was gathered.
func (o *Orchestrator) announce(ctx context.Context, snap session.Session, shareURL string) {
	if o.mainChannel == 0 || snap.Meta[session.MetaTitle] == "" {
		return
	}

	body := o.builder.Build(snap.Meta)
	markup := post.Keyboard(shareURL)

	if cover := post.CoverURL(snap.Meta); cover != "" {
		if _, err := o.client.SendPhoto(ctx, o.mainChannel, cover, body, markup); err == nil {
			return
		}
		o.logger.Info().Msg("cover post failed; falling back to text")
	}
	if _, err := o.client.SendMessage(ctx, o.mainChannel, body, markup); err != nil {
		o.logger.Warn().Err(err).Msg("announcement failed")
	}
}

// Cancel aborts the principal's run and tears the session down.
func (o *Orchestrator) Cancel(ctx context.Context, principal int64) {
	o.store.Terminate(principal, "cancelled", func(s *session.Session) {
		surface := progress.Surface{Chat: s.PrivateChat, Msg: s.StatusMsg}
		var public *progress.Surface
		if s.PublicMsg != 0 && o.mainChannel != 0 {
			public = &progress.Surface{Chat: o.mainChannel, Msg: s.PublicMsg}
		}
		o.reporter.Attach(surface, public, "").Detach(ctx, "🛑 Cancelled.", true)
	})
}

// Expire is the idle-reaper callback.
func (o *Orchestrator) Expire(ctx context.Context, principal int64) {
	o.store.Terminate(principal, "expired", func(s *session.Session) {
		surface := progress.Surface{Chat: s.PrivateChat, Msg: s.StatusMsg}
		var public *progress.Surface
		if s.PublicMsg != 0 && o.mainChannel != 0 {
			public = &progress.Surface{Chat: o.mainChannel, Msg: s.PublicMsg}
		}
		o.reporter.Attach(surface, public, "").Detach(ctx, "⌛ Session expired.", true)
	})
}

// Screenshot extracts one frame from the session's video and sends it to
// the private chat. The session survives; this is a side action.
func (o *Orchestrator) Screenshot(ctx context.Context, principal int64) error {
	var snap session.Session
	if err := o.store.View(principal, func(s *session.Session) { snap = *s }); err != nil {
		return err
	}
	if snap.VideoPath == "" {
		return errors.New("no local video to screenshot")
	}

	shot := o.path(principal, "shot_%d.jpg")
	o.ownFile(principal, shot)
	if err := o.ops.ExtractFrame(ctx, snap.VideoPath, shot); err != nil {
		return err
	}
	_, err := o.client.SendPhoto(ctx, snap.PrivateChat, shot, "", nil)
	return err
}

// ExtractEmbedded pulls the first embedded subtitle track out of the
// session's video and returns its path. Used by the automatic mode to skip
// the subtitle upload step.
func (o *Orchestrator) ExtractEmbedded(ctx context.Context, principal int64) (string, error) {
	var snap session.Session
	if err := o.store.View(principal, func(s *session.Session) { snap = *s }); err != nil {
		return "", err
	}
	if snap.VideoPath == "" {
		return "", errors.New("no local video to extract from")
	}

	out := o.path(principal, "sub_%d.ass")
	o.ownFile(principal, out)
	if err := o.ops.ExtractSubtitle(ctx, snap.VideoPath, out); err != nil {
		return "", err
	}
	if err := checkOutput(out); err != nil {
		return "", err
	}
	return out, nil
}

func (o *Orchestrator) ownFile(principal int64, path string) {
	_ = o.store.Mutate(principal, func(s *session.Session) error {
		s.Own(path)
		return nil
	})
}

// fail renders the operator-facing failure line and tears the session down.
func (o *Orchestrator) fail(ctx context.Context, principal int64, tracker *progress.Tracker, err error) {
	msg, outcome := describeFailure(err)
	logger := log.WithPrincipal("pipeline", principal)
	logger.Error().Err(err).Str("outcome", outcome).Msg("pipeline run failed")

	// Detach before Terminate: Terminate cancels the run context, and the
	// final edit should still go out.
	tracker.Detach(context.WithoutCancel(ctx), msg, true)

	if o.logChannel != 0 && outcome == "failed" {
		line := fmt.Sprintf("⚠️ Run for %d failed: %s", principal, msg)
		if _, serr := o.client.SendMessage(context.WithoutCancel(ctx), o.logChannel, line, nil); serr != nil {
			o.logger.Warn().Err(serr).Msg("could not mirror failure to the log channel")
		}
	}

	o.store.Terminate(principal, outcome, nil)
}

// describeFailure maps pipeline errors onto the short operator-facing lines.
func describeFailure(err error) (msg, outcome string) {
	var toolErr *mediatool.ToolError
	switch {
	case errors.Is(err, context.Canceled):
		return "🛑 Cancelled.", "cancelled"
	case errors.Is(err, aria2.ErrNotFound):
		return "❌ Link not found (404).", "failed"
	case errors.Is(err, aria2.ErrAccessDenied):
		return "❌ Access denied by the remote server (403).", "failed"
	case errors.Is(err, aria2.ErrNetwork):
		return "❌ Network error while downloading.", "failed"
	case errors.Is(err, mediatool.ErrTimeout):
		return "❌ Processing timed out.", "failed"
	case errors.As(err, &toolErr):
		return fmt.Sprintf("❌ Processing failed during %s.", toolErr.Op), "failed"
	default:
		return "❌ " + err.Error(), "failed"
	}
}

// checkOutput rejects missing or zero-byte artifacts before they can be
// uploaded.
func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("produced an empty output file")
	}
	return nil
}
