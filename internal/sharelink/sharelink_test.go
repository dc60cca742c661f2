// SPDX-License-Identifier: MIT

package sharelink

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavenlysubs/submux/internal/chat"
)

func TestMintKnownVector(t *testing.T) {
	// Message 42 in channel -100200300: 42 * 100200300 = 4208412600. The
	// product uses the full absolute channel id, marker prefix included, to
	// stay bit-exact with links already in circulation.
	token, err := Mint(42, -100200300)
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Equal(t, "get-4208412600", string(raw))
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		msg     chat.MessageID
		channel chat.ChatID
	}{
		{1, -1},
		{42, -100200300},
		{999999, -1002279496397},
		{7, 55}, // positive channel ids also round-trip via abs
	}
	for _, tc := range cases {
		token, err := Mint(tc.msg, tc.channel)
		require.NoError(t, err)

		got, err := Decode(token, tc.channel)
		require.NoError(t, err)
		assert.Equal(t, tc.msg, got, "msg=%d channel=%d", tc.msg, tc.channel)
	}
}

func TestMintRejectsNonPositiveMessage(t *testing.T) {
	_, err := Mint(0, -5)
	assert.Error(t, err)
	_, err = Mint(-3, -5)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not base64!!!", -5)
	assert.Error(t, err)

	// Valid base64 but wrong prefix.
	bad := base64.URLEncoding.EncodeToString([]byte("put-42"))
	_, err = Decode(bad, -5)
	assert.Error(t, err)

	// Product not divisible by the channel.
	tok := base64.URLEncoding.EncodeToString([]byte("get-43"))
	_, err = Decode(tok, -5)
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	assert.Equal(t,
		"https://t.me/HeavenlySubsBot?start=Z2V0LTg0MTI2MDA=",
		URL("HeavenlySubsBot", "Z2V0LTg0MTI2MDA="))
}
