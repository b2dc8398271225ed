package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/sjawhar/clipcoach/internal/capture"
)

const fragmentSize = 64 * 1024

// FFmpegEncoder muxes a stream's video and audio tracks into WebM
// (VP8 + Opus) and delivers the container bytes from ffmpeg's stdout.
type FFmpegEncoder struct {
	Path     string
	MimeType string

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewFFmpegEncoder(path, mimeType string) *FFmpegEncoder {
	if path == "" {
		path = "ffmpeg"
	}
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return &FFmpegEncoder{Path: path, MimeType: mimeType, command: exec.CommandContext}
}

func ffmpegArgs(stream *capture.Stream) ([]string, error) {
	video := stream.Track(capture.KindVideo)
	audio := stream.Track(capture.KindAudio)
	if video == nil || audio == nil {
		return nil, errors.New("stream needs one video and one audio track")
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	for _, t := range []capture.Track{video, audio} {
		in := t.Input()
		if in.Format != "" {
			args = append(args, "-f", in.Format)
		}
		args = append(args, "-i", in.Source)
	}
	args = append(args,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-c:a", "libopus",
		"-f", "webm",
		"pipe:1",
	)
	return args, nil
}

func (e *FFmpegEncoder) Start(ctx context.Context, stream *capture.Stream) (Capture, error) {
	args, err := ffmpegArgs(stream)
	if err != nil {
		return nil, err
	}
	// The process outlives the request context that started it; Stop ends it.
	cmd := e.command(context.WithoutCancel(ctx), e.Path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := &ffmpegCapture{
		cmd:       cmd,
		stdin:     stdin,
		mimeType:  e.MimeType,
		fragments: make(chan []byte, 16),
	}
	go c.read(stdout)
	return c, nil
}

type ffmpegCapture struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	mimeType  string
	fragments chan []byte

	stopOnce sync.Once
	stopErr  error
}

func (c *ffmpegCapture) Fragments() <-chan []byte { return c.fragments }
func (c *ffmpegCapture) MimeType() string         { return c.mimeType }

func (c *ffmpegCapture) read(stdout io.Reader) {
	defer close(c.fragments)

	for {
		buf := make([]byte, fragmentSize)
		n, err := stdout.Read(buf)
		if n > 0 {
			c.fragments <- buf[:n]
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("ffmpeg stdout read failed", "error", err)
			}
			break
		}
	}

	if err := c.cmd.Wait(); err != nil {
		slog.Warn("ffmpeg exited with error", "error", err)
	}
}

// Stop asks ffmpeg to finish the container by sending "q" on stdin, which
// makes it write the trailing cluster before exiting.
func (c *ffmpegCapture) Stop() error {
	c.stopOnce.Do(func() {
		if _, err := io.WriteString(c.stdin, "q"); err != nil {
			c.stopErr = fmt.Errorf("signal ffmpeg: %w", err)
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
		}
		_ = c.stdin.Close()
	})
	return c.stopErr
}
