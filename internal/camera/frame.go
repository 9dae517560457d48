package camera

import "time"

// Frame is one decoded image sampled from the source, held as JPEG bytes.
// Frames are value types: Data is never mutated after capture, and every
// reader gets its own copy via Clone.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// Clone returns an independent copy of the frame so a later cache overwrite
// can never mutate a copy already handed out.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Data: data, Seq: f.Seq, Timestamp: f.Timestamp}
}

// Stats is a read-only snapshot of the acquisition state, exposed to the
// API layer.
type Stats struct {
	Connected     bool      `json:"connected"`
	State         string    `json:"state"`
	SourceURI     string    `json:"source_uri"`
	FrameCount    uint64    `json:"frame_count"`
	LastFrameTime time.Time `json:"last_frame_time"`
}

// FrameSource is the consumer-side view of the acquisition core. Services
// poll it on their own schedules; there is no push subscription.
type FrameSource interface {
	GetFrame() (Frame, bool)
}
