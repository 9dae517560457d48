package timelapse

import (
	"strings"
	"testing"
)

func TestConcatList_per_frame_duration(t *testing.T) {
	entries := []Entry{entry("/t/a.jpg"), entry("/t/b.jpg")}

	list := ConcatList(entries, 20)

	if !strings.Contains(list, "file '/t/a.jpg'\nduration 0.050000\n") {
		t.Errorf("expected 1/20s duration per frame, got:\n%s", list)
	}
	if !strings.Contains(list, "file '/t/b.jpg'\nduration 0.050000\n") {
		t.Errorf("expected duration after second frame, got:\n%s", list)
	}
}

func TestConcatList_duplicates_final_frame(t *testing.T) {
	entries := []Entry{entry("/t/a.jpg"), entry("/t/b.jpg")}

	list := ConcatList(entries, 24)

	// The demuxer drops the trailing duration; the final frame is listed
	// once more so it survives.
	if !strings.HasSuffix(list, "file '/t/b.jpg'\n") {
		t.Errorf("expected list to end with duplicated final frame, got:\n%s", list)
	}
	if strings.Count(list, "file '/t/b.jpg'") != 2 {
		t.Errorf("final frame should appear twice, got:\n%s", list)
	}
	if strings.Count(list, "file '/t/a.jpg'") != 1 {
		t.Errorf("non-final frames should appear once, got:\n%s", list)
	}
}

func TestConcatList_empty(t *testing.T) {
	if got := ConcatList(nil, 24); got != "" {
		t.Errorf("expected empty list, got %q", got)
	}
}

func TestLastLines(t *testing.T) {
	s := "a\nb\nc\nd"
	if got := lastLines(s, 2); got != "c\nd" {
		t.Errorf("expected last 2 lines, got %q", got)
	}
	if got := lastLines("only", 5); got != "only" {
		t.Errorf("short input should pass through, got %q", got)
	}
}
