package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_motion_events_newest_first(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"ev-1", "ev-2", "ev-3"} {
		err := s.InsertMotionEvent(MotionEvent{
			ID:         id,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FrameCount: 10,
			Dir:        "/storage/motion/" + id,
		})
		if err != nil {
			t.Fatalf("InsertMotionEvent: %v", err)
		}
	}

	events, err := s.RecentMotionEvents(2)
	if err != nil {
		t.Fatalf("RecentMotionEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "ev-3" || events[1].ID != "ev-2" {
		t.Errorf("expected newest first, got %s then %s", events[0].ID, events[1].ID)
	}
}

func TestStore_recent_motion_events_empty(t *testing.T) {
	s := newTestStore(t)
	events, err := s.RecentMotionEvents(20)
	if err != nil {
		t.Fatalf("RecentMotionEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestStore_segments_for_date(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordSegment("2024-01-01", 20, "/storage/timelapse/2024-01-01.mp4"); err != nil {
		t.Fatalf("RecordSegment: %v", err)
	}
	if err := s.RecordSegment("2024-01-01", 15, "/storage/timelapse/2024-01-01.mp4"); err != nil {
		t.Fatalf("RecordSegment: %v", err)
	}
	if err := s.RecordSegment("2024-01-02", 5, "/storage/timelapse/2024-01-02.mp4"); err != nil {
		t.Fatalf("RecordSegment: %v", err)
	}

	segs, err := s.SegmentsForDate("2024-01-01")
	if err != nil {
		t.Fatalf("SegmentsForDate: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].FrameCount != 20 || segs[1].FrameCount != 15 {
		t.Errorf("expected compile order, got %d then %d", segs[0].FrameCount, segs[1].FrameCount)
	}
}
