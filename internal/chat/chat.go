// SPDX-License-Identifier: MIT

// Package chat defines the thin adapter surface over the upstream chat
// platform. The daemon only ever talks to these interfaces; the concrete
// transport is provided by the embedding build.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatID identifies a private chat or channel. Channels are negative.
type ChatID int64

// MessageID identifies a message within a chat.
type MessageID int

// FileInfo describes an attachment on an inbound message.
type FileInfo struct {
	FileID string
	Name   string
	MIME   string
	Size   int64
}

// Message is an inbound chat event.
type Message struct {
	ID       MessageID
	Chat     ChatID
	From     int64
	Text     string
	Document *FileInfo
	Video    *FileInfo
	Photo    *FileInfo
}

// Callback is an inbound button tap.
type Callback struct {
	ID      string
	From    int64
	Chat    ChatID
	Message MessageID
	Data    string
}

// Button is a single inline keyboard entry. Exactly one of URL and Data
// should be set.
type Button struct {
	Text string
	URL  string
	Data string
}

// Markup is an inline keyboard: rows of buttons.
type Markup [][]Button

// ProgressFunc receives byte-level transfer progress.
type ProgressFunc func(current, total int64)

// ErrNotModified is returned by EditMessageText when the rendered text is
// byte-identical to the current one. Callers tolerate it.
var ErrNotModified = errors.New("message not modified")

// FloodWaitError reports an upstream rate-limit rejection.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.RetryAfter)
}

// IsFloodWait reports whether err is an upstream rate-limit rejection.
func IsFloodWait(err error) bool {
	var fw *FloodWaitError
	return errors.As(err, &fw)
}

// Client is the outbound capability set required from the chat platform.
type Client interface {
	SendMessage(ctx context.Context, chat ChatID, text string, markup Markup) (MessageID, error)
	SendPhoto(ctx context.Context, chat ChatID, photo, caption string, markup Markup) (MessageID, error)
	SendDocument(ctx context.Context, chat ChatID, path, caption, thumb string, progress ProgressFunc) (MessageID, error)
	SendSticker(ctx context.Context, chat ChatID, sticker string) error
	EditMessageText(ctx context.Context, chat ChatID, id MessageID, text string, markup Markup) error
	DeleteMessage(ctx context.Context, chat ChatID, id MessageID) error
	DownloadMedia(ctx context.Context, fileID, dest string, progress ProgressFunc) (string, error)
	CopyMessage(ctx context.Context, srcChat ChatID, src MessageID, dstChat ChatID) (MessageID, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
