package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ProbeResult summarises the streams of a media file.
type ProbeResult struct {
	Duration      float64
	HasVideo      bool
	VideoDuration float64
	Width         int
	Height        int
	VideoCodec    string
	HasAudio      bool
	AudioDuration float64
	AudioCodec    string
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ErrNoAudio is returned by MeanVolume for files without an audio stream.
var ErrNoAudio = errors.New("ffmpeg: no audio stream")

func (t *Tool) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{"-v", "error", "-print_format", "json", "-show_streams", "-show_format", path}
	stdout, _, err := t.runner.Run(ctx, t.ffprobe, args, nil)
	if err != nil {
		return ProbeResult{}, err
	}
	return ParseProbe(stdout)
}

// ParseProbe reads ffprobe JSON. Stream durations fall back to the
// container duration when a muxer omits them.
func ParseProbe(raw []byte) (ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProbeResult{}, fmt.Errorf("ffmpeg: parse probe: %w", err)
	}
	var res ProbeResult
	res.Duration = parseSeconds(out.Format.Duration)
	for _, s := range out.Streams {
		d := parseSeconds(s.Duration)
		if d == 0 {
			d = res.Duration
		}
		switch s.CodecType {
		case "video":
			if res.HasVideo {
				continue
			}
			res.HasVideo = true
			res.VideoDuration = d
			res.Width, res.Height = s.Width, s.Height
			res.VideoCodec = s.CodecName
		case "audio":
			if res.HasAudio {
				continue
			}
			res.HasAudio = true
			res.AudioDuration = d
			res.AudioCodec = s.CodecName
		}
	}
	return res, nil
}

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?inf|-?[0-9.]+)\s*dB`)

// MeanVolume measures the mean loudness of the first audio stream in dBFS.
func (t *Tool) MeanVolume(ctx context.Context, path string) (float64, error) {
	args := []string{"-hide_banner", "-nostats", "-i", path, "-map", "0:a:0", "-af", "volumedetect", "-f", "null", "-"}
	_, stderr, err := t.runner.Run(ctx, t.ffmpeg, args, nil)
	if err != nil {
		if strings.Contains(err.Error(), "matches no streams") {
			return 0, ErrNoAudio
		}
		return 0, err
	}
	return ParseMeanVolume(string(stderr))
}

func ParseMeanVolume(stderr string) (float64, error) {
	m := meanVolumeRe.FindStringSubmatch(stderr)
	if m == nil {
		return 0, errors.New("ffmpeg: volumedetect reported no mean_volume")
	}
	if strings.HasSuffix(m[1], "inf") {
		return -91, nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: parse mean_volume %q: %w", m[1], err)
	}
	return v, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
