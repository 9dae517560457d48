package timelapse

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeRunner simulates the encoder with plain files: a compiled segment's
// content is the ordered list of its frame paths, and Concat joins the two
// inputs' contents. That makes playback order assertable without ffmpeg.
type fakeRunner struct {
	mu         sync.Mutex
	compiles   [][]Entry
	concats    int
	compileErr error
	concatErr  error
}

func (r *fakeRunner) CompileSegment(_ context.Context, entries []Entry, fps int, outPath string) error {
	r.mu.Lock()
	r.compiles = append(r.compiles, append([]Entry(nil), entries...))
	err := r.compileErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Path + "\n")
	}
	return os.WriteFile(outPath, []byte(b.String()), 0o644)
}

func (r *fakeRunner) Concat(_ context.Context, firstPath, secondPath, outPath string) error {
	r.mu.Lock()
	r.concats++
	err := r.concatErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	first, rerr := os.ReadFile(firstPath)
	if rerr != nil {
		return rerr
	}
	second, rerr := os.ReadFile(secondPath)
	if rerr != nil {
		return rerr
	}
	return os.WriteFile(outPath, append(first, second...), 0o644)
}

func (r *fakeRunner) compileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.compiles)
}

func newTestAssembler(t *testing.T, runner Runner) *Assembler {
	t.Helper()
	asm, err := NewAssembler(filepath.Join(t.TempDir(), "timelapse"), runner, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return asm
}

func writeSegment(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	return p
}

func TestAssembler_first_segment_promoted(t *testing.T) {
	runner := &fakeRunner{}
	asm := newTestAssembler(t, runner)
	seg := writeSegment(t, t.TempDir(), "seg1.mp4", "a\nb\n")

	if err := asm.AppendSegment(context.Background(), "2024-01-01", seg); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}

	path, ok := asm.VideoPath("2024-01-01")
	if !ok {
		t.Fatal("asset should exist after promotion")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\n" {
		t.Errorf("promoted asset content mismatch: %q", data)
	}
	if _, err := os.Stat(seg); !os.IsNotExist(err) {
		t.Error("segment file should be gone after promotion")
	}
	if runner.concats != 0 {
		t.Error("promotion must not invoke the encoder")
	}
}

func TestAssembler_second_segment_concatenated_in_order(t *testing.T) {
	runner := &fakeRunner{}
	asm := newTestAssembler(t, runner)
	dir := t.TempDir()

	seg1 := writeSegment(t, dir, "seg1.mp4", "a\nb\n")
	seg2 := writeSegment(t, dir, "seg2.mp4", "c\nd\n")

	ctx := context.Background()
	if err := asm.AppendSegment(ctx, "2024-01-01", seg1); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := asm.AppendSegment(ctx, "2024-01-01", seg2); err != nil {
		t.Fatalf("second append: %v", err)
	}

	path, _ := asm.VideoPath("2024-01-01")
	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\nc\nd\n" {
		t.Errorf("asset should contain both segments in capture order, got %q", data)
	}
	if _, err := os.Stat(seg2); !os.IsNotExist(err) {
		t.Error("second segment file should be removed after append")
	}
}

func TestAssembler_failed_append_leaves_asset_untouched(t *testing.T) {
	runner := &fakeRunner{}
	asm := newTestAssembler(t, runner)
	dir := t.TempDir()

	seg1 := writeSegment(t, dir, "seg1.mp4", "a\n")
	ctx := context.Background()
	if err := asm.AppendSegment(ctx, "2024-01-01", seg1); err != nil {
		t.Fatalf("first append: %v", err)
	}

	runner.concatErr = errors.New("encoder exploded")
	seg2 := writeSegment(t, dir, "seg2.mp4", "b\n")
	if err := asm.AppendSegment(ctx, "2024-01-01", seg2); err == nil {
		t.Fatal("expected append error")
	}

	path, _ := asm.VideoPath("2024-01-01")
	data, _ := os.ReadFile(path)
	if string(data) != "a\n" {
		t.Errorf("asset must be untouched after failed append, got %q", data)
	}
	if _, err := os.Stat(path + ".tmp" + assetExt); !os.IsNotExist(err) {
		t.Error("temporary output should be discarded on failure")
	}
}

func TestAssembler_available_dates_includes_today(t *testing.T) {
	runner := &fakeRunner{}
	asm := newTestAssembler(t, runner)
	seg := writeSegment(t, t.TempDir(), "seg.mp4", "a\n")
	if err := asm.AppendSegment(context.Background(), "2024-01-01", seg); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}

	dates := asm.AvailableDates("2024-01-02")
	if len(dates) != 2 {
		t.Fatalf("expected 2 dates, got %v", dates)
	}
	if dates[0] != "2024-01-02" || dates[1] != "2024-01-01" {
		t.Errorf("expected newest-first with today included, got %v", dates)
	}
}

func TestAssembler_available_dates_no_duplicate_today(t *testing.T) {
	runner := &fakeRunner{}
	asm := newTestAssembler(t, runner)
	seg := writeSegment(t, t.TempDir(), "seg.mp4", "a\n")
	if err := asm.AppendSegment(context.Background(), "2024-01-01", seg); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}

	dates := asm.AvailableDates("2024-01-01")
	if len(dates) != 1 || dates[0] != "2024-01-01" {
		t.Errorf("today with an asset should appear once, got %v", dates)
	}
}

func TestAssembler_available_dates_skips_stray_files(t *testing.T) {
	runner := &fakeRunner{}
	asm := newTestAssembler(t, runner)
	seg := writeSegment(t, t.TempDir(), "seg.mp4", "a\n")
	if err := asm.AppendSegment(context.Background(), "2024-01-01", seg); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	// Leftovers from a crash mid-append must not surface as dates.
	writeSegment(t, asm.dir, "2024-01-01.mp4.tmp.mp4", "partial")
	writeSegment(t, asm.dir, "notes.txt", "x")

	dates := asm.AvailableDates("2024-01-02")
	if len(dates) != 2 || dates[0] != "2024-01-02" || dates[1] != "2024-01-01" {
		t.Errorf("expected only real dates, got %v", dates)
	}
}

func TestAssembler_video_path_missing_date(t *testing.T) {
	asm := newTestAssembler(t, &fakeRunner{})
	if _, ok := asm.VideoPath("1999-12-31"); ok {
		t.Error("expected no asset for unknown date")
	}
}
