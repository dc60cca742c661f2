// SPDX-License-Identifier: MIT

// Package post assembles the public announcement body from session metadata.
package post

import (
	"net/url"
	"strings"

	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/session"
)

// maxSynopsis is the cut-off applied in short mode; longer descriptions are
// truncated to leave room for the trailing dots.
const maxSynopsis = 100

// Builder renders announcement posts.
type Builder struct {
	// ShortSynopsis truncates descriptions over 100 characters.
	ShortSynopsis bool
}

// Build renders the post body. Empty optional fields are omitted together
// with their bullet line.
func (b Builder) Build(meta map[session.MetaKey]string) string {
	var lines []string
	lines = append(lines, "☗   "+meta[session.MetaTitle])

	var bullets []string
	if v := meta[session.MetaRating]; v != "" {
		bullets = append(bullets, "⦿   Ratings: "+v)
	}
	if v := meta[session.MetaEpisode]; v != "" {
		bullets = append(bullets, "⦿   Episode: "+v)
	}
	if v := meta[session.MetaGenres]; v != "" {
		bullets = append(bullets, "⦿   Genres: "+v)
	}
	if len(bullets) > 0 {
		lines = append(lines, "")
		lines = append(lines, bullets...)
	}

	if desc := meta[session.MetaDescription]; desc != "" {
		if b.ShortSynopsis && len([]rune(desc)) > maxSynopsis {
			desc = string([]rune(desc)[:maxSynopsis-3]) + "..."
		}
		lines = append(lines, "", "◆   Synopsis: "+desc)
	}

	return strings.Join(lines, "\n")
}

// CoverURL returns the metadata cover URL when it is a usable HTTP(S) URL.
func CoverURL(meta map[session.MetaKey]string) string {
	raw := meta[session.MetaCoverURL]
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return raw
}

// Keyboard returns the single-button markup linking to the share URL.
func Keyboard(shareURL string) chat.Markup {
	return chat.Markup{{{Text: "Download / Watch", URL: shareURL}}}
}
