// Package transcode supervises the external ffmpeg process that turns a
// track into a constant-bitrate MP3 byte stream.
package transcode

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/domain/track"
)

// ErrTranscode marks failures of the transcoding process.
var ErrTranscode = errors.New("transcode failed")

// Config represents transcoder configuration.
type Config struct {
	FFmpegPath string
	Codec      string
	Bitrate    string // e.g. "128k"
	Channels   int
	SampleRate int
	Format     string
}

// Args returns the ffmpeg arguments for the given input.
func (c Config) Args(input string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-acodec", c.Codec,
		"-ab", c.Bitrate,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", c.Format,
		"-fflags", "+nobuffer",
		"-flags", "+low_delay",
		"pipe:1",
	}
}

// Transcoder starts one ffmpeg process per track.
// At most one process is active at a time.
type Transcoder struct {
	mu      sync.Mutex
	cfg     Config
	active  *Process
	command func(input string) *exec.Cmd
}

// New creates a new transcoder.
func New(cfg Config) *Transcoder {
	t := &Transcoder{cfg: cfg}
	t.command = func(input string) *exec.Cmd {
		return exec.Command(cfg.FFmpegPath, cfg.Args(input)...)
	}
	return t
}

// Start spawns a process for the track, killing any process still active.
func (t *Transcoder) Start(tr track.Track) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		zlog.Debug().Msgf("transcode: stopping previous process: pid=%d", t.active.PID())
		_ = t.active.Kill()
		_ = t.active.Close()
		t.active = nil
	}

	cmd := t.command(tr.Location)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	// No WaitDelay: output is drained at the paced rate long after ffmpeg
	// exits. Kill and Close release a stuck copy instead.
	cmd.Stderr = &stderrFilter{track: tr.ID()}

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, errors.Wrapf(errors.Mark(err, ErrTranscode), "failed to start transcoder for %s", tr.Location)
	}

	p := &Process{
		cmd:   cmd,
		out:   pr,
		done:  make(chan struct{}),
		track: tr,
	}
	go p.wait(pw)

	t.active = p
	zlog.Info().Msgf("transcode: started: pid=%d track=%s", p.PID(), tr.ID())
	return p, nil
}

// Stop kills the active process, if any.
func (t *Transcoder) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return
	}
	_ = t.active.Kill()
	_ = t.active.Close()
	t.active = nil
}

// Process is the handle for one running ffmpeg process.
type Process struct {
	cmd   *exec.Cmd
	out   *io.PipeReader
	done  chan struct{}
	track track.Track

	code int
	err  error
}

// Read reads transcoded bytes. It returns io.EOF once the process has exited
// and all output has been consumed.
func (p *Process) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

// Kill forcibly terminates the process. A process that already exited is
// not an error.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "failed to kill transcoder")
	}
	return nil
}

// Close releases the output stream.
func (p *Process) Close() error {
	return p.out.Close()
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// PID returns the process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Track returns the track this process is transcoding.
func (p *Process) Track() track.Track {
	return p.track
}

func (p *Process) wait(pw *io.PipeWriter) {
	err := p.cmd.Wait()

	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = errors.Mark(err, ErrTranscode)
	}
	p.code = code

	_ = pw.Close()
	close(p.done)

	zlog.Debug().Msgf("transcode: exited: pid=%d code=%d track=%s", p.PID(), code, p.track.ID())
}

// stderrFilter logs ffmpeg stderr line by line, dropping banner noise.
type stderrFilter struct {
	track string
	buf   bytes.Buffer
}

func (f *stderrFilter) Write(b []byte) (int, error) {
	f.buf.Write(b)
	for {
		line, err := f.buf.ReadString('\n')
		if err != nil {
			// Incomplete line stays buffered.
			f.buf.Reset()
			f.buf.WriteString(line)
			break
		}
		f.log(line)
	}
	return len(b), nil
}

func (f *stderrFilter) log(line string) {
	line = strings.TrimSpace(line)
	if line == "" || isBanner(line) {
		return
	}
	zlog.Warn().Msgf("transcode: ffmpeg: track=%s %s", f.track, line)
}

func isBanner(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "ffmpeg version") || strings.HasPrefix(line, "configuration:")
}

// ParseBitrate converts an ffmpeg bitrate option such as "128k" to bits/sec.
func ParseBitrate(opt string) (int, error) {
	s := strings.TrimSpace(opt)
	mult := 1
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult, s = 1000, s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		mult, s = 1000000, s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.Newf("invalid bitrate: %q", opt)
	}
	return n * mult, nil
}
