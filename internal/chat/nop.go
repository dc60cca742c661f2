// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Nop is a Client that logs every outbound operation and drops it. It keeps
// the daemon runnable without credentials: health, metrics, the feed poller
// and the pipeline all exercise their real code paths against it.
type Nop struct {
	nextID atomic.Int64
	logger zerolog.Logger
}

// NewNop builds a Nop client logging through the given logger.
func NewNop(logger zerolog.Logger) *Nop {
	return &Nop{logger: logger}
}

func (n *Nop) id() MessageID {
	return MessageID(n.nextID.Add(1))
}

func (n *Nop) SendMessage(_ context.Context, c ChatID, text string, _ Markup) (MessageID, error) {
	n.logger.Info().Int64("chat", int64(c)).Str("text", text).Msg("drop: SendMessage")
	return n.id(), nil
}

func (n *Nop) SendPhoto(_ context.Context, c ChatID, photo, _ string, _ Markup) (MessageID, error) {
	n.logger.Info().Int64("chat", int64(c)).Str("photo", photo).Msg("drop: SendPhoto")
	return n.id(), nil
}

func (n *Nop) SendDocument(_ context.Context, c ChatID, path, _, _ string, progress ProgressFunc) (MessageID, error) {
	if progress != nil {
		progress(1, 1)
	}
	n.logger.Info().Int64("chat", int64(c)).Str("path", path).Msg("drop: SendDocument")
	return n.id(), nil
}

func (n *Nop) SendSticker(_ context.Context, c ChatID, sticker string) error {
	n.logger.Info().Int64("chat", int64(c)).Str("sticker", sticker).Msg("drop: SendSticker")
	return nil
}

func (n *Nop) EditMessageText(_ context.Context, c ChatID, id MessageID, _ string, _ Markup) error {
	n.logger.Debug().Int64("chat", int64(c)).Int("msg", int(id)).Msg("drop: EditMessageText")
	return nil
}

func (n *Nop) DeleteMessage(_ context.Context, c ChatID, id MessageID) error {
	n.logger.Debug().Int64("chat", int64(c)).Int("msg", int(id)).Msg("drop: DeleteMessage")
	return nil
}

func (n *Nop) DownloadMedia(_ context.Context, fileID, dest string, progress ProgressFunc) (string, error) {
	if progress != nil {
		progress(1, 1)
	}
	n.logger.Info().Str("file", fileID).Str("dest", dest).Msg("drop: DownloadMedia")
	return dest, nil
}

func (n *Nop) CopyMessage(_ context.Context, srcChat ChatID, src MessageID, dstChat ChatID) (MessageID, error) {
	n.logger.Info().Int64("src", int64(srcChat)).Int("msg", int(src)).Int64("dst", int64(dstChat)).Msg("drop: CopyMessage")
	return n.id(), nil
}

func (n *Nop) AnswerCallback(_ context.Context, callbackID, _ string, _ bool) error {
	n.logger.Debug().Str("callback", callbackID).Msg("drop: AnswerCallback")
	return nil
}
