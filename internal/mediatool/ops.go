// SPDX-License-Identifier: MIT

package mediatool

import "context"

// Ops exposes the fixed media pipeline operations on top of a Runner.
type Ops struct {
	runner *Runner

	// TrackTitle and TrackLang label the muxed subtitle stream.
	TrackTitle string
	TrackLang  string
}

// NewOps wires the pipeline operations. trackTitle defaults to
// "HeavenlySubs" and the language to "eng".
func NewOps(runner *Runner, trackTitle string) *Ops {
	if trackTitle == "" {
		trackTitle = "HeavenlySubs"
	}
	return &Ops{runner: runner, TrackTitle: trackTitle, TrackLang: "eng"}
}

// StripSubtitles copies video and audio streams into out, dropping every
// subtitle and attachment track. Audio is optional so silent clips pass.
func (o *Ops) StripSubtitles(ctx context.Context, in, out string) error {
	return o.runner.Run(ctx, "strip", stripArgs(in, out))
}

func stripArgs(in, out string) []string {
	return []string{"-y", "-i", in, "-map", "0:v", "-map", "0:a?", "-c", "copy", out}
}

// Mux combines the stripped video, the normalized subtitle and the display
// font into out. The subtitle track is titled, tagged and flagged default;
// all streams are copied, never re-encoded.
func (o *Ops) Mux(ctx context.Context, video, sub, font, out string) error {
	return o.runner.Run(ctx, "mux", o.muxArgs(video, sub, font, out))
}

func (o *Ops) muxArgs(video, sub, font, out string) []string {
	return []string{
		"-y",
		"-i", video,
		"-i", sub,
		"-attach", font,
		"-metadata:s:t:0", "mimetype=application/x-font-otf",
		"-map", "0",
		"-map", "1",
		"-metadata:s:s:0", "title=" + o.TrackTitle,
		"-metadata:s:s:0", "language=" + o.TrackLang,
		"-disposition:s:s:0", "default",
		"-c", "copy",
		out,
	}
}

// ConvertSubtitle transcodes a foreign subtitle format into the target
// container implied by out's extension.
func (o *Ops) ConvertSubtitle(ctx context.Context, in, out string) error {
	return o.runner.Run(ctx, "convert", []string{"-y", "-i", in, out})
}

// ExtractFrame grabs a single frame a few seconds in, for screenshots and
// generated thumbnails.
func (o *Ops) ExtractFrame(ctx context.Context, video, out string) error {
	return o.runner.Run(ctx, "screenshot", []string{
		"-y", "-ss", "00:00:05", "-i", video, "-frames:v", "1", "-q:v", "2", out,
	})
}

// ExtractSubtitle pulls the first embedded subtitle stream out of video.
func (o *Ops) ExtractSubtitle(ctx context.Context, video, out string) error {
	return o.runner.Run(ctx, "extract", []string{"-y", "-i", video, "-map", "0:s:0", out})
}
