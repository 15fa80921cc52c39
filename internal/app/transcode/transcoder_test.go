package transcode

import (
	"context"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19radio/internal/app/broadcast"
	"github.com/osa030/19radio/internal/domain/track"
)

// shTranscoder returns a transcoder that runs script with sh instead of ffmpeg.
func shTranscoder(script string) *Transcoder {
	t := New(Config{})
	t.command = func(input string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
	return t
}

func TestConfig_Args(t *testing.T) {
	cfg := Config{
		FFmpegPath: "ffmpeg",
		Codec:      "libmp3lame",
		Bitrate:    "128k",
		Channels:   2,
		SampleRate: 44100,
		Format:     "mp3",
	}

	args := cfg.Args("tracks/a.mp3")
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "tracks/a.mp3",
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", "128k",
		"-ac", "2",
		"-ar", "44100",
		"-f", "mp3",
		"-fflags", "+nobuffer",
		"-flags", "+low_delay",
		"pipe:1",
	}, args)
}

func TestTranscoder_StreamsOutput(t *testing.T) {
	tc := shTranscoder("printf 'hello world'")

	p, err := tc.Start(track.Track{Location: "a.mp3"})
	require.NoError(t, err)

	data, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	code, err := p.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestTranscoder_PacedReadReachesCleanEnd(t *testing.T) {
	// The process exits at once; draining at 16000 B/s takes about 2.5s.
	const size = 40000
	tc := shTranscoder("head -c 40000 /dev/zero")

	p, err := tc.Start(track.Track{Location: "a.mp3"})
	require.NoError(t, err)

	th := broadcast.NewThrottle(p, 16000)
	defer th.Close()

	n, err := io.Copy(io.Discard, th)
	require.NoError(t, err)
	assert.Equal(t, int64(size), n)

	code, err := p.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestTranscoder_ReportsNonZeroExit(t *testing.T) {
	tc := shTranscoder("printf 'partial'; exit 3")

	p, err := tc.Start(track.Track{Location: "a.mp3"})
	require.NoError(t, err)

	data, _ := io.ReadAll(p)
	assert.Equal(t, "partial", string(data))

	code, err := p.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestTranscoder_StartKillsPrevious(t *testing.T) {
	tc := shTranscoder("exec sleep 30")

	first, err := tc.Start(track.Track{Location: "a.mp3"})
	require.NoError(t, err)

	second, err := tc.Start(track.Track{Location: "b.mp3"})
	require.NoError(t, err)
	defer func() {
		_ = second.Kill()
		_ = second.Close()
	}()

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("previous process was not stopped")
	}

	code, _ := first.Wait()
	assert.NotEqual(t, 0, code)
}

func TestProcess_KillIsIdempotent(t *testing.T) {
	tc := shTranscoder("exit 0")

	p, err := tc.Start(track.Track{Location: "a.mp3"})
	require.NoError(t, err)
	_, _ = io.ReadAll(p)
	_, _ = p.Wait()

	// Process already gone.
	assert.NoError(t, p.Kill())
	assert.NoError(t, p.Kill())
	assert.NoError(t, p.Close())
}

func TestTranscoder_StopUnblocksReader(t *testing.T) {
	tc := shTranscoder("while true; do printf 'x'; sleep 0.01; done")

	p, err := tc.Start(track.Track{Location: "a.mp3"})
	require.NoError(t, err)

	readDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, p)
		readDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	tc.Stop()

	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("reader was not released by Stop")
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
}

func TestTranscoder_StartFailure(t *testing.T) {
	tc := New(Config{FFmpegPath: "/nonexistent/ffmpeg-binary"})

	_, err := tc.Start(track.Track{Location: "a.mp3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscode))
}

func TestStderrFilter(t *testing.T) {
	assert.True(t, isBanner("ffmpeg version 6.0 Copyright"))
	assert.True(t, isBanner("  configuration: --enable-gpl"))
	assert.False(t, isBanner("Invalid data found when processing input"))
	assert.False(t, isBanner("Invalid configuration for codec libmp3lame"))
	assert.False(t, isBanner("Unsupported version of the input"))

	f := &stderrFilter{track: "a.mp3"}
	n, err := f.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, "second ", f.buf.String())

	_, _ = f.Write([]byte("half\n"))
	assert.Equal(t, "", f.buf.String())
}

func TestParseBitrate(t *testing.T) {
	tests := []struct {
		out     string
		want    int
		wantErr bool
	}{
		{out: "128000\n", want: 128000},
		{out: "320000\n192000\n", want: 320000},
		{out: "N/A\n", wantErr: true},
		{out: "", wantErr: true},
		{out: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			got, err := parseBitrate(tt.out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProber_Probe(t *testing.T) {
	p := NewProber("ffprobe", time.Second)
	p.command = func(ctx context.Context, location string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "echo 192000")
	}

	br, err := p.Probe(context.Background(), "a.mp3")
	require.NoError(t, err)
	assert.Equal(t, 192000, br)

	p.command = func(ctx context.Context, location string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "exit 1")
	}
	_, err = p.Probe(context.Background(), "a.mp3")
	assert.Error(t, err)
}

func TestParseBitrateOption(t *testing.T) {
	tests := []struct {
		opt     string
		want    int
		wantErr bool
	}{
		{opt: "128k", want: 128000},
		{opt: "320K", want: 320000},
		{opt: "1M", want: 1000000},
		{opt: "96000", want: 96000},
		{opt: "", wantErr: true},
		{opt: "k", wantErr: true},
		{opt: "fast", wantErr: true},
		{opt: "0k", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.opt, func(t *testing.T) {
			got, err := ParseBitrate(tt.opt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
