package muxer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pokerjest/animeleech/internal/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFFmpeg(fs afero.Fs) *FFmpeg {
	return NewFFmpeg(config.MuxerConfig{Enabled: true, Language: "jpn"}, fs)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/d/ep1_muxed.mkv", OutputPath("/d/ep1.mkv"))
	assert.Equal(t, "/d/Show - 01_muxed.mp4", OutputPath("/d/Show - 01.mp4"))
}

func TestSubtitleCodec(t *testing.T) {
	assert.Equal(t, "mov_text", subtitleCodec("a.mp4", "a.ass"))
	assert.Equal(t, "srt", subtitleCodec("a.mkv", "a.srt"))
	assert.Equal(t, "webvtt", subtitleCodec("a.mkv", "a.vtt"))
	assert.Equal(t, "ass", subtitleCodec("a.mkv", "a.ASS"))
}

func TestArgs(t *testing.T) {
	f := newTestFFmpeg(afero.NewMemMapFs())
	args := strings.Join(f.Args("in.mkv", "in.srt", "out.mkv"), " ")

	assert.Contains(t, args, "-i in.mkv")
	assert.Contains(t, args, "-i in.srt")
	assert.Contains(t, args, "-c:s srt")
	assert.Contains(t, args, "-c:v copy")
	assert.Contains(t, args, "-metadata:s:s:0 language=jpn")
	assert.Contains(t, args, "-hide_banner")
	assert.Contains(t, args, "-y")
	assert.True(t, strings.Index(args, "-i in.mkv") < strings.Index(args, "-i in.srt"))
	assert.True(t, strings.Contains(args, "out.mkv"))
}

func TestMux_Success(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/d/ep1.mkv", []byte("video"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/d/ep1.srt", []byte("1\n"), 0o644))

	f := newTestFFmpeg(fs)
	var gotName string
	f.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotName = name
		return afero.WriteFile(fs, "/d/ep1_muxed.mkv", []byte("muxed"), 0o644)
	})

	require.NoError(t, f.Mux(context.Background(), "/d/ep1.mkv", "/d/ep1.srt", "/d/ep1_muxed.mkv"))
	assert.Equal(t, "ffmpeg", gotName)
}

func TestMux_FailureRemovesPartialOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/d/ep1.mkv", []byte("video"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/d/ep1.srt", []byte("1\n"), 0o644))

	f := newTestFFmpeg(fs)
	f.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		_ = afero.WriteFile(fs, "/d/ep1_muxed.mkv", []byte("half"), 0o644)
		return errors.New("exit status 1")
	})

	err := f.Mux(context.Background(), "/d/ep1.mkv", "/d/ep1.srt", "/d/ep1_muxed.mkv")
	assert.Error(t, err)
	exists, _ := afero.Exists(fs, "/d/ep1_muxed.mkv")
	assert.False(t, exists)
}

func TestMux_EmptyOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/d/ep1.mkv", []byte("video"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/d/ep1.srt", []byte("1\n"), 0o644))

	f := newTestFFmpeg(fs)
	f.WithCommandRunner(func(ctx context.Context, name string, args ...string) error { return nil })

	err := f.Mux(context.Background(), "/d/ep1.mkv", "/d/ep1.srt", "/d/ep1_muxed.mkv")
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestMux_MissingInput(t *testing.T) {
	f := newTestFFmpeg(afero.NewMemMapFs())
	called := false
	f.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		called = true
		return nil
	})
	assert.Error(t, f.Mux(context.Background(), "/nope.mkv", "/nope.srt", "/out.mkv"))
	assert.False(t, called)
}

func TestNew_Disabled(t *testing.T) {
	m := New(config.MuxerConfig{Enabled: false}, afero.NewMemMapFs())
	assert.ErrorIs(t, m.Mux(context.Background(), "a", "b", "c"), ErrDisabled)
}
