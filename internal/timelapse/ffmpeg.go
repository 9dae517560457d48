package timelapse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrEncoderTimeout is returned when an encoder invocation exceeds its
// bounded run time and is killed.
var ErrEncoderTimeout = errors.New("encoder timed out")

// Runner abstracts the external encoder so the pipeline can be tested
// without ffmpeg installed.
type Runner interface {
	// CompileSegment encodes the ordered stills into one video segment at
	// the given frame rate.
	CompileSegment(ctx context.Context, entries []Entry, fps int, outPath string) error

	// Concat stream-copies firstPath followed by secondPath into outPath
	// without re-encoding.
	Concat(ctx context.Context, firstPath, secondPath, outPath string) error
}

// FFmpeg runs the ffmpeg binary as a batch process with a bounded timeout.
type FFmpeg struct {
	bin     string
	timeout time.Duration
	log     *slog.Logger
}

// NewFFmpeg returns an FFmpeg runner. bin defaults to "ffmpeg" on PATH.
func NewFFmpeg(bin string, timeout time.Duration, log *slog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FFmpeg{bin: bin, timeout: timeout, log: log}
}

// ConcatList renders an ffmpeg concat-demuxer list for the given stills.
// Each frame is shown for 1/fps seconds, and the final frame appears once
// more without a duration so the demuxer's edge handling does not truncate
// it.
func ConcatList(entries []Entry, fps int) string {
	if fps <= 0 {
		fps = 24
	}
	dur := 1.0 / float64(fps)

	var b strings.Builder
	for _, e := range entries {
		b.WriteString("file '" + e.Path + "'\n")
		b.WriteString("duration " + strconv.FormatFloat(dur, 'f', 6, 64) + "\n")
	}
	if len(entries) > 0 {
		b.WriteString("file '" + entries[len(entries)-1].Path + "'\n")
	}
	return b.String()
}

// CompileSegment implements Runner.CompileSegment. The transient list file
// lives next to the output and is removed regardless of outcome.
func (f *FFmpeg) CompileSegment(ctx context.Context, entries []Entry, fps int, outPath string) error {
	if len(entries) == 0 {
		return errors.New("no frames to compile")
	}
	if fps <= 0 {
		fps = 24
	}

	listPath := outPath + ".frames.txt"
	if err := os.WriteFile(listPath, []byte(ConcatList(entries, fps)), 0o644); err != nil {
		return fmt.Errorf("write frame list: %w", err)
	}
	defer os.Remove(listPath)

	return f.run(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		outPath,
	)
}

// Concat implements Runner.Concat using the concat demuxer with stream copy.
func (f *FFmpeg) Concat(ctx context.Context, firstPath, secondPath, outPath string) error {
	listPath := outPath + ".concat.txt"
	list := "file '" + firstPath + "'\nfile '" + secondPath + "'\n"
	if err := os.WriteFile(listPath, []byte(list), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	return f.run(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)
}

// run executes ffmpeg with the bounded timeout; on expiry the process is
// killed rather than left as a zombie.
func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		f.log.Error("encoder killed after timeout",
			slog.Duration("timeout", f.timeout))
		return ErrEncoderTimeout
	}
	if err != nil {
		f.log.Error("encoder failed",
			slog.String("error", err.Error()),
			slog.String("output", lastLines(output.String(), 5)))
		return fmt.Errorf("%s: %w", f.bin, err)
	}
	return nil
}

// lastLines returns at most n trailing lines of s; ffmpeg puts the useful
// diagnostics at the end of a long banner.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
