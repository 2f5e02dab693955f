package ffmpeg

import "context"

// ReplaceAudio copies the video stream of videoPath and encodes audioPath as
// its only audio track into outPath.
func (t *Tool) ReplaceAudio(ctx context.Context, videoPath, audioPath, outPath string) error {
	_, _, err := t.runner.Run(ctx, t.ffmpeg, ReplaceAudioArgs(videoPath, audioPath, outPath), nil)
	if err != nil {
		return err
	}
	t.logger.Debug().Str("video", videoPath).Str("audio", audioPath).Msg("ffmpeg: audio replaced")
	return nil
}

func ReplaceAudioArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "128k", "-ar", "48000",
		"-movflags", "+faststart",
		outPath,
	}
}
