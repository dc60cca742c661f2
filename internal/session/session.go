// SPDX-License-Identifier: MIT

// Package session holds the per-principal work-in-progress records and the
// process-wide store that owns their lifecycle.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/heavenlysubs/submux/internal/chat"
)

// Stage is a point in the pipeline state machine.
type Stage int

const (
	StageAwaitingVideo Stage = iota
	StageAwaitingSubtitle
	StageAwaitingName
	StageAwaitingThumbnail
	// StageGatheringMetadata is the URL-ingest entry variant: the post menu
	// collects metadata instead of a video upload.
	StageGatheringMetadata
	StageProcessing
	StageUploading
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingVideo:
		return "awaiting_video"
	case StageAwaitingSubtitle:
		return "awaiting_subtitle"
	case StageAwaitingName:
		return "awaiting_name"
	case StageAwaitingThumbnail:
		return "awaiting_thumbnail"
	case StageGatheringMetadata:
		return "gathering_metadata"
	case StageProcessing:
		return "processing"
	case StageUploading:
		return "uploading"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Terminal reports whether the stage ends the session.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// legal maps each stage to its allowed successors. Failure is reachable from
// every non-terminal stage and is handled separately in CanAdvance.
var legal = map[Stage][]Stage{
	StageAwaitingVideo:     {StageAwaitingSubtitle},
	StageAwaitingSubtitle:  {StageAwaitingName},
	StageAwaitingName:      {StageAwaitingThumbnail},
	StageAwaitingThumbnail: {StageProcessing},
	StageGatheringMetadata: {StageProcessing},
	StageProcessing:        {StageUploading},
	StageUploading:         {StageDone},
}

// CanAdvance reports whether the transition from s to next is legal.
func (s Stage) CanAdvance(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	for _, t := range legal[s] {
		if t == next {
			return true
		}
	}
	return false
}

// MetaKey names a recognized metadata field.
type MetaKey string

const (
	MetaTitle       MetaKey = "title"
	MetaDescription MetaKey = "description"
	MetaRating      MetaKey = "rating"
	MetaEpisode     MetaKey = "episode"
	MetaGenres      MetaKey = "genres"
	MetaCoverURL    MetaKey = "cover_url"
	MetaDDLURL      MetaKey = "ddl_url"
	MetaQuality     MetaKey = "quality"
	MetaStatus      MetaKey = "status"
	MetaSize        MetaKey = "size"
	MetaSynopsis    MetaKey = "synopsis"
)

// KnownMeta reports whether k is a recognized metadata key.
func KnownMeta(k MetaKey) bool {
	switch k {
	case MetaTitle, MetaDescription, MetaRating, MetaEpisode, MetaGenres,
		MetaCoverURL, MetaDDLURL, MetaQuality, MetaStatus, MetaSize, MetaSynopsis:
		return true
	}
	return false
}

// Session is a principal-keyed work-in-progress record. All mutation goes
// through Store.Mutate; the fields carry no locking of their own.
type Session struct {
	Principal int64
	Stage     Stage

	// Inputs. VideoPath is set once the video is local; VideoFileID points
	// at the inbound message it will be fetched from.
	VideoPath     string
	VideoFileID   string
	SubtitlePath  string
	FontPath      string
	ThumbnailPath string
	OutputName    string
	Caption       string

	Meta map[MetaKey]string
	// MenuField is the metadata key the next free-text input fills, while
	// the post menu is open.
	MenuField MetaKey

	// Status surfaces.
	PrivateChat chat.ChatID
	StatusMsg   chat.MessageID // private surface, 0 = none
	PublicMsg   chat.MessageID // public surface, 0 = none

	CreatedAt    time.Time
	LastActivity time.Time

	// TempFiles are the artifacts this session owns; they are unlinked on
	// termination.
	TempFiles []string

	// Cancel aborts the in-flight pipeline run, if any. Set by the
	// orchestrator when it starts long-running work.
	Cancel context.CancelFunc
}

// Advance moves the session to next if legal.
func (s *Session) Advance(next Stage) error {
	if !s.Stage.CanAdvance(next) {
		return fmt.Errorf("illegal transition %s -> %s", s.Stage, next)
	}
	s.Stage = next
	return nil
}

// Touch refreshes the idle-expiry clock.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// Own registers a temp file for cleanup at termination.
func (s *Session) Own(path string) {
	if path == "" {
		return
	}
	s.TempFiles = append(s.TempFiles, path)
}
