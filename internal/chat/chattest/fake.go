// SPDX-License-Identifier: MIT

// Package chattest provides an in-memory chat.Client for tests.
package chattest

import (
	"context"
	"sync"

	"github.com/heavenlysubs/submux/internal/chat"
)

// Call records one outbound operation.
type Call struct {
	Op      string
	Chat    chat.ChatID
	Msg     chat.MessageID
	Text    string
	Path    string
	Caption string
	Markup  chat.Markup
}

// Fake is a recording chat.Client. Zero value is ready to use.
type Fake struct {
	mu     sync.Mutex
	nextID chat.MessageID
	calls  []Call

	// EditErr, when set, is returned by every EditMessageText call.
	EditErr error
	// SendMessageErr, when set, is returned by every SendMessage call.
	SendMessageErr error
	// SendPhotoErr, when set, is returned by every SendPhoto call.
	SendPhotoErr error
	// DownloadPath, when set, is returned by DownloadMedia.
	DownloadPath string
}

func (f *Fake) record(c Call) chat.MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.calls = append(f.calls, c)
	return f.nextID
}

// Calls returns a copy of all recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsOf returns all recorded calls for the given operation.
func (f *Fake) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) SendMessage(_ context.Context, c chat.ChatID, text string, markup chat.Markup) (chat.MessageID, error) {
	if f.SendMessageErr != nil {
		return 0, f.SendMessageErr
	}
	return f.record(Call{Op: "SendMessage", Chat: c, Text: text, Markup: markup}), nil
}

func (f *Fake) SendPhoto(_ context.Context, c chat.ChatID, photo, caption string, markup chat.Markup) (chat.MessageID, error) {
	if f.SendPhotoErr != nil {
		return 0, f.SendPhotoErr
	}
	return f.record(Call{Op: "SendPhoto", Chat: c, Path: photo, Caption: caption, Markup: markup}), nil
}

func (f *Fake) SendDocument(_ context.Context, c chat.ChatID, path, caption, thumb string, progress chat.ProgressFunc) (chat.MessageID, error) {
	if progress != nil {
		progress(1, 1)
	}
	return f.record(Call{Op: "SendDocument", Chat: c, Path: path, Caption: caption}), nil
}

func (f *Fake) SendSticker(_ context.Context, c chat.ChatID, sticker string) error {
	f.record(Call{Op: "SendSticker", Chat: c, Path: sticker})
	return nil
}

func (f *Fake) EditMessageText(_ context.Context, c chat.ChatID, id chat.MessageID, text string, markup chat.Markup) error {
	if f.EditErr != nil {
		return f.EditErr
	}
	f.record(Call{Op: "EditMessageText", Chat: c, Msg: id, Text: text, Markup: markup})
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, c chat.ChatID, id chat.MessageID) error {
	f.record(Call{Op: "DeleteMessage", Chat: c, Msg: id})
	return nil
}

func (f *Fake) DownloadMedia(_ context.Context, fileID, dest string, progress chat.ProgressFunc) (string, error) {
	if progress != nil {
		progress(1, 1)
	}
	f.record(Call{Op: "DownloadMedia", Path: dest, Text: fileID})
	if f.DownloadPath != "" {
		return f.DownloadPath, nil
	}
	return dest, nil
}

func (f *Fake) CopyMessage(_ context.Context, srcChat chat.ChatID, src chat.MessageID, dstChat chat.ChatID) (chat.MessageID, error) {
	return f.record(Call{Op: "CopyMessage", Chat: dstChat, Msg: src}), nil
}

func (f *Fake) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	f.record(Call{Op: "AnswerCallback", Text: text})
	return nil
}
