// SPDX-License-Identifier: MIT

package router

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/session"
)

// Callback actions. Wire format is "{action}_{principal}"; the principal is
// always the final underscore-separated token.
const (
	actionMerge      = "merge"
	actionExtract    = "extract"
	actionScreenshot = "screenshot"
	actionCancel     = "cancel"
	actionCreatePost = "create_post"
	actionSetPrefix  = "set_"
)

func callbackData(action string, principal int64) string {
	return fmt.Sprintf("%s_%d", action, principal)
}

// parseCallback splits callback data into action and principal.
func parseCallback(data string) (action string, principal int64, err error) {
	idx := strings.LastIndex(data, "_")
	if idx < 1 || idx == len(data)-1 {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	principal, err = strconv.ParseInt(data[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed callback principal in %q", data)
	}
	return data[:idx], principal, nil
}

// parseCommand recognizes "/cmd payload" messages.
func parseCommand(text string) (cmd, payload string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	body := strings.TrimPrefix(text, "/")
	if body == "" {
		return "", "", false
	}
	if i := strings.IndexByte(body, ' '); i >= 0 {
		cmd, payload = body[:i], strings.TrimSpace(body[i+1:])
	} else {
		cmd = body
	}
	// Strip the bot-mention suffix of group commands.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), payload, true
}

// menuFields is the post menu layout: label and the metadata key it edits.
var menuFields = []struct {
	Label string
	Key   session.MetaKey
}{
	{"Title", session.MetaTitle},
	{"Rating", session.MetaRating},
	{"Episode", session.MetaEpisode},
	{"Genres", session.MetaGenres},
	{"Synopsis", session.MetaDescription},
	{"Cover URL", session.MetaCoverURL},
	{"Download URL", session.MetaDDLURL},
}

// sendMenu renders the post-composition keyboard. Filled fields get a
// checkmark so the operator can see what is still missing.
func (r *Router) sendMenu(ctx context.Context, chatID chat.ChatID, principal int64) {
	meta := map[session.MetaKey]string{}
	_ = r.store.View(principal, func(s *session.Session) {
		for k, v := range s.Meta {
			meta[k] = v
		}
	})

	var markup chat.Markup
	for _, f := range menuFields {
		label := f.Label
		if meta[f.Key] != "" {
			label = "✅ " + label
		}
		markup = append(markup, []chat.Button{{
			Text: label,
			Data: callbackData(actionSetPrefix+string(f.Key), principal),
		}})
	}
	markup = append(markup, []chat.Button{
		{Text: "📣 Create Post", Data: callbackData(actionCreatePost, principal)},
		{Text: "🛑 Cancel", Data: callbackData(actionCancel, principal)},
	})

	if _, err := r.client.SendMessage(ctx, chatID, "📋 Compose the post. Tap a field to fill it.", markup); err != nil {
		r.logger.Warn().Err(err).Msg("post menu failed")
	}
}

// validateMeta enforces per-field input rules.
func validateMeta(key session.MetaKey, value string) error {
	switch key {
	case session.MetaRating:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 100 {
			return fmt.Errorf("rating must be a whole number between 0 and 100")
		}
	case session.MetaEpisode:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("episode must be a number")
		}
	case session.MetaCoverURL, session.MetaDDLURL:
		if !validURL(value) {
			return fmt.Errorf("that does not look like an http(s) URL")
		}
	default:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("value must not be empty")
		}
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// acceptMetaValue fills the pending menu field from a free-text message.
func (r *Router) acceptMetaValue(ctx context.Context, msg chat.Message) {
	var field session.MetaKey
	_ = r.store.View(msg.From, func(s *session.Session) { field = s.MenuField })
	if field == "" {
		r.reply(ctx, msg.Chat, "Pick a field from the menu first.")
		return
	}

	value := strings.TrimSpace(msg.Text)
	if err := validateMeta(field, value); err != nil {
		r.reply(ctx, msg.Chat, "❌ "+err.Error())
		return
	}

	_ = r.store.Mutate(msg.From, func(s *session.Session) error {
		s.Meta[field] = value
		s.MenuField = ""
		return nil
	})
	r.sendMenu(ctx, msg.Chat, msg.From)
}

// HandleCallback routes one button tap.
func (r *Router) HandleCallback(ctx context.Context, cb chat.Callback) {
	answer := func(text string, alert bool) {
		if err := r.client.AnswerCallback(ctx, cb.ID, text, alert); err != nil {
			r.logger.Debug().Err(err).Msg("callback answer failed")
		}
	}

	if !r.isOwner(cb.From) {
		answer("This button is not for you.", true)
		return
	}

	action, principal, err := parseCallback(cb.Data)
	if err != nil {
		r.logger.Info().Err(err).Msg("ignoring malformed callback")
		answer("", false)
		return
	}
	if !r.store.Exists(principal) {
		answer("That session is gone.", true)
		return
	}

	switch {
	case action == actionCancel:
		r.pipeline.Cancel(ctx, principal)
		answer("Cancelled.", false)

	case action == actionMerge:
		r.startRun(ctx, cb, principal, answer, r.pipeline.Process)

	case action == actionCreatePost:
		var ready bool
		_ = r.store.View(principal, func(s *session.Session) {
			ready = s.Meta[session.MetaTitle] != "" && s.Meta[session.MetaDDLURL] != ""
		})
		if !ready {
			answer("Title and download URL are required first.", true)
			return
		}
		r.startRun(ctx, cb, principal, answer, r.pipeline.ProcessURL)

	case action == actionScreenshot:
		if err := r.pipeline.Screenshot(ctx, principal); err != nil {
			answer("Screenshot failed: "+err.Error(), true)
			return
		}
		answer("Screenshot sent.", false)

	case action == actionExtract:
		sub, err := r.pipeline.ExtractEmbedded(ctx, principal)
		if err != nil {
			answer("Extraction failed: "+err.Error(), true)
			return
		}
		_ = r.store.Mutate(principal, func(s *session.Session) error {
			s.SubtitlePath = sub
			return nil
		})
		if _, err := r.client.SendDocument(ctx, cb.Chat, sub, "", "", nil); err != nil {
			r.logger.Info().Err(err).Msg("could not send extracted subtitle")
		}
		answer("Embedded subtitles extracted.", false)

	case strings.HasPrefix(action, actionSetPrefix):
		key := session.MetaKey(strings.TrimPrefix(action, actionSetPrefix))
		if !session.KnownMeta(key) {
			answer("Unknown field.", true)
			return
		}
		_ = r.store.Mutate(principal, func(s *session.Session) error {
			s.MenuField = key
			return nil
		})
		answer("", false)
		r.reply(ctx, cb.Chat, fmt.Sprintf("✍️ Send the value for %s.", key))

	default:
		answer("Unknown action.", true)
	}
}

// startRun opens the status surface and launches the pipeline run in the
// background.
func (r *Router) startRun(ctx context.Context, cb chat.Callback, principal int64, answer func(string, bool), run func(context.Context, int64)) {
	statusID, err := r.client.SendMessage(ctx, cb.Chat, "🚀 Starting...", nil)
	if err != nil {
		answer("Could not open a status message.", true)
		return
	}
	_ = r.store.Mutate(principal, func(s *session.Session) error {
		s.StatusMsg = statusID
		s.PrivateChat = cb.Chat
		return nil
	})
	answer("", false)
	go run(ctx, principal)
}
