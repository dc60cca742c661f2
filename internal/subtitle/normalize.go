// SPDX-License-Identifier: MIT

// Package subtitle rewrites ASS subtitle files into the house style: the
// configured display font at size 20, and every dialogue line pinned with a
// fixed position directive.
package subtitle

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
)

// PosTag is the position directive prepended to every dialogue line. The
// coordinates are calibrated constants carried over from the existing
// subtitle library; they are deliberately not derived from the video
// resolution.
const PosTag = `{\pos(193,265)}`

// StyleFontSize is the forced font size in rewritten Style records.
const StyleFontSize = "20"

// dialogueFields is the number of comma-separated fields before the text
// field in an ASS Dialogue record.
const dialogueFields = 9

// CanonicalExt is the extension of the canonical subtitle format.
const CanonicalExt = ".ass"

// Foreign reports whether the file needs conversion before normalization.
func Foreign(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".srt") || strings.HasSuffix(lower, ".vtt")
}

// Recognized reports whether the file is an acceptable subtitle upload.
func Recognized(name string) bool {
	return Foreign(name) || strings.HasSuffix(strings.ToLower(name), CanonicalExt)
}

// Normalize rewrites the ASS file at path in place: Style records get the
// given font family and size 20, dialogue lines get exactly one PosTag in
// front of the visible text with any pre-existing override tags stripped.
// Running it twice yields the same bytes as running it once.
func Normalize(path, font string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- session-owned temp file
	if err != nil {
		return fmt.Errorf("read subtitle: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Style:"):
			lines[i] = rewriteStyle(line, font)
		case strings.HasPrefix(line, "Dialogue:"):
			lines[i] = rewriteDialogue(line)
		}
	}

	out := strings.Join(lines, "\n")
	if err := renameio.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write subtitle: %w", err)
	}
	return nil
}

// rewriteStyle forces the font family and size. ASS Style format:
// Style: Name,Fontname,Fontsize,...
func rewriteStyle(line, font string) string {
	body := strings.TrimPrefix(line, "Style:")
	fields := strings.Split(body, ",")
	if len(fields) < 3 {
		return line
	}
	fields[1] = font
	fields[2] = StyleFontSize
	return "Style:" + strings.Join(fields, ",")
}

// rewriteDialogue strips inline override tags from the text field and
// prepends the position directive.
func rewriteDialogue(line string) string {
	parts := strings.SplitN(line, ",", dialogueFields+1)
	if len(parts) <= dialogueFields {
		return line
	}
	parts[dialogueFields] = PosTag + stripOverrides(parts[dialogueFields])
	return strings.Join(parts, ",")
}

// stripOverrides removes every {...} override block from the text.
func stripOverrides(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
