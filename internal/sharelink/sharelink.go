// SPDX-License-Identifier: MIT

// Package sharelink mints and decodes the stable share tokens that point at
// messages in the storage channel. The encoding is bit-exact with the links
// already in circulation: urlsafe base64 (padding retained) over the ASCII
// string "get-{message_id * |channel_id|}".
package sharelink

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/heavenlysubs/submux/internal/chat"
)

const prefix = "get-"

// Mint produces the share token for a stored message. message must be
// positive and channel non-zero.
func Mint(message chat.MessageID, channel chat.ChatID) (string, error) {
	if message <= 0 {
		return "", fmt.Errorf("message id must be positive, got %d", message)
	}
	if channel == 0 {
		return "", fmt.Errorf("channel id must be non-zero")
	}
	product := int64(message) * abs(int64(channel))
	raw := prefix + strconv.FormatInt(product, 10)
	return base64.URLEncoding.EncodeToString([]byte(raw)), nil
}

// Decode recovers the stored message id from a token minted against channel.
func Decode(token string, channel chat.ChatID) (chat.MessageID, error) {
	if channel == 0 {
		return 0, fmt.Errorf("channel id must be non-zero")
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("malformed token: %w", err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("malformed token: missing prefix")
	}
	product, err := strconv.ParseInt(strings.TrimPrefix(s, prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed token: %w", err)
	}
	div := abs(int64(channel))
	if product <= 0 || product%div != 0 {
		return 0, fmt.Errorf("token does not belong to this channel")
	}
	return chat.MessageID(product / div), nil
}

// URL assembles the public share URL for a token.
func URL(botUsername, token string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, token)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
