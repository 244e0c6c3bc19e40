package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// PCMStreamer runs ffmpeg to decode a file or URL into s16le, 48 kHz,
// stereo PCM on Stdout.
type PCMStreamer struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc

	closeOnce sync.Once
}

func StartPCM(ctx context.Context, ffmpegPath, input string) (*PCMStreamer, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ctx2, cancel := context.WithCancel(ctx)

	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(input, "http") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	args = append(args,
		"-i", input,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-f", "s16le",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx2, ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	return &PCMStreamer{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
	}, nil
}

func (s *PCMStreamer) Stdout() io.Reader {
	return s.stdout
}

// Close stops ffmpeg and reaps the process. It is safe to call twice.
func (s *PCMStreamer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.cmd.Wait()
	})
}

// Stderr returns what ffmpeg reported. Only meaningful after Close.
func (s *PCMStreamer) Stderr() string {
	return strings.TrimSpace(s.stderr.String())
}
