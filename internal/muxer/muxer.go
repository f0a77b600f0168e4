package muxer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pokerjest/animeleech/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

var (
	// ErrDisabled is returned by the Disabled muxer.
	ErrDisabled = errors.New("muxer disabled")
	// ErrNoOutput means the encoder exited cleanly but left no usable file.
	ErrNoOutput = errors.New("muxer produced no output")
)

// Muxer embeds a subtitle sidecar into a new container at output.
type Muxer interface {
	Mux(ctx context.Context, video, subtitle, output string) error
}

// CommandRunner runs an external binary; ctx cancellation must kill it.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// New returns the ffmpeg muxer, or Disabled when muxing is switched off.
func New(cfg config.MuxerConfig, fs afero.Fs) Muxer {
	if !cfg.Enabled {
		return Disabled{}
	}
	return NewFFmpeg(cfg, fs)
}

// Disabled never muxes; callers fall back to the original file.
type Disabled struct{}

func (Disabled) Mux(context.Context, string, string, string) error { return ErrDisabled }

// FFmpeg builds the mux graph with ffmpeg-go and runs the ffmpeg binary.
type FFmpeg struct {
	bin      string
	language string
	fs       afero.Fs
	run      CommandRunner
}

func NewFFmpeg(cfg config.MuxerConfig, fs afero.Fs) *FFmpeg {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	return &FFmpeg{bin: bin, language: lang, fs: fs, run: defaultCommandRunner}
}

// WithCommandRunner swaps the process runner, mainly for tests.
func (f *FFmpeg) WithCommandRunner(r CommandRunner) {
	if f != nil && r != nil {
		f.run = r
	}
}

// OutputPath is where the muxed copy of video goes: "<base>_muxed<ext>".
func OutputPath(video string) string {
	ext := filepath.Ext(video)
	return strings.TrimSuffix(video, ext) + "_muxed" + ext
}

// Args returns the ffmpeg command line (without the binary) for one mux.
func (f *FFmpeg) Args(video, subtitle, output string) []string {
	inputs := []*ffmpeg.Stream{ffmpeg.Input(video), ffmpeg.Input(subtitle)}
	return ffmpeg.Output(inputs, output, ffmpeg.KwArgs{
		"c:v":            "copy",
		"c:a":            "copy",
		"c:s":            subtitleCodec(output, subtitle),
		"metadata:s:s:0": "language=" + f.language,
	}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		OverWriteOutput().
		GetArgs()
}

func (f *FFmpeg) Mux(ctx context.Context, video, subtitle, output string) error {
	if video == "" || subtitle == "" || output == "" {
		return fmt.Errorf("mux: video, subtitle and output are required")
	}
	for _, p := range []string{video, subtitle} {
		if _, err := f.fs.Stat(p); err != nil {
			return fmt.Errorf("mux input %q: %w", p, err)
		}
	}

	args := f.Args(video, subtitle, output)
	log.WithFields(log.Fields{"video": video, "subtitle": subtitle}).Debug("muxing subtitles")

	if err := f.run(ctx, f.bin, args...); err != nil {
		_ = f.fs.Remove(output)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}

	info, err := f.fs.Stat(output)
	if err != nil || info.Size() == 0 {
		_ = f.fs.Remove(output)
		return ErrNoOutput
	}
	return nil
}

// mp4 只支持 mov_text 字幕
func subtitleCodec(output, subtitle string) string {
	if strings.EqualFold(filepath.Ext(output), ".mp4") {
		return "mov_text"
	}
	switch strings.ToLower(filepath.Ext(subtitle)) {
	case ".vtt":
		return "webvtt"
	case ".ass":
		return "ass"
	default:
		return "srt"
	}
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
