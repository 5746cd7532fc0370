package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gerkai/soaperNote/internal/audio"
)

// ErrNoCaptureCommand is returned when no capture command is configured
var ErrNoCaptureCommand = errors.New("no capture command configured")

// Input produces a raw S16LE mono PCM stream for a capture handle
type Input interface {
	Acquire(ctx context.Context) (io.ReadCloser, error)
}

// CommandInput captures audio from an external process writing PCM to stdout
// (arecord, ffmpeg, sox).
type CommandInput struct {
	Command string
	Args    []string
}

// BuildCaptureCommand returns an arecord invocation for mono S16LE PCM at sampleRate
func BuildCaptureCommand(device string, sampleRate int) CommandInput {
	if device == "" {
		device = "default"
	}
	return CommandInput{
		Command: "arecord",
		Args: []string{
			"-D", device,
			"-f", "S16_LE",
			"-r", strconv.Itoa(sampleRate),
			"-c", "1",
			"-t", "raw",
			"-q",
			"-",
		},
	}
}

// Acquire starts the capture process
func (c CommandInput) Acquire(ctx context.Context) (io.ReadCloser, error) {
	if c.Command == "" {
		return nil, ErrNoCaptureCommand
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Command, err)
	}

	return &processReader{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// processReader closes the capture process together with its stdout
type processReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	once   sync.Once
}

func (p *processReader) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *processReader) Close() error {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		// Wait closes stdout; a killed process always reports an exit error
		_ = p.cmd.Wait()
	})
	return nil
}

// ReaderInput serves an existing PCM stream, such as a pipe or a file
type ReaderInput struct {
	Reader io.Reader
}

// Acquire returns the wrapped reader
func (r ReaderInput) Acquire(ctx context.Context) (io.ReadCloser, error) {
	if r.Reader == nil {
		return nil, fmt.Errorf("reader input has no reader")
	}
	if rc, ok := r.Reader.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r.Reader), nil
}

// FileInput reopens a PCM file or FIFO for every recording. A FIFO is read
// as fast as its writer produces audio; a regular file is replayed in real
// time at SampleRate.
type FileInput struct {
	Path       string
	SampleRate int
}

// Acquire opens the file for reading
func (f FileInput) Acquire(ctx context.Context) (io.ReadCloser, error) {
	if f.Path == "" {
		return nil, fmt.Errorf("file input has no path")
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio input: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audio input: %w", err)
	}
	if !info.Mode().IsRegular() {
		return file, nil
	}

	if f.SampleRate <= 0 {
		file.Close()
		return nil, fmt.Errorf("replaying %s needs a positive sample rate, got %d", f.Path, f.SampleRate)
	}
	return newPacedReader(ctx, file, f.SampleRate*audio.BytesPerSample), nil
}

// pacedReader limits reads to bytesPerSecond
type pacedReader struct {
	file    *os.File
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

func newPacedReader(ctx context.Context, file *os.File, bytesPerSecond int) *pacedReader {
	// Release a tenth of a second per read, aligned to whole samples
	burst := max(bytesPerSecond/10&^1, audio.BytesPerSample)
	ctx, cancel := context.WithCancel(ctx)
	return &pacedReader{
		file:    file,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *pacedReader) Read(b []byte) (int, error) {
	n := min(len(b), p.limiter.Burst())
	if err := p.limiter.WaitN(p.ctx, n); err != nil {
		return 0, fmt.Errorf("paced read: %w", err)
	}
	return p.file.Read(b[:n])
}

func (p *pacedReader) Close() error {
	p.cancel()
	return p.file.Close()
}
