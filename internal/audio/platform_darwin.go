//go:build darwin

package audio

import "github.com/oszuidwest/zwfm-micwatch/internal/util"

// NewBackend returns the AVFoundation device lister.
func NewBackend(opts Options) Backend {
	ffmpeg := util.ResolveCommandPath(opts.FFmpegPath, "ffmpeg")
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return newFFmpegEnumerator(combinedRunner(opts.Timeout), avfoundationListConfig(ffmpeg))
}
