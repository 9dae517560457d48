package camera

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrOpenTimeout is returned when opening the source takes longer than
	// the configured bound.
	ErrOpenTimeout = errors.New("source open timed out")

	// ErrNoData is returned when the source opens but the verification read
	// produces nothing. Network cameras commonly report an open handle while
	// delivering no stream.
	ErrNoData = errors.New("source opened but produced no data")
)

// Source owns a single video-source handle. Implementations are not safe for
// concurrent use; the acquisition loop is the only caller.
type Source interface {
	// Open connects to the given URI within a bounded time and performs one
	// verification read.
	Open(uri string) error

	// Read returns the next frame as JPEG bytes, or false on failure or end
	// of stream. It must not block past a small time slice.
	Read() ([]byte, bool)

	// Close releases the handle. Safe to call when not open.
	Close() error
}

// VideoSource reads a network video stream through OpenCV.
type VideoSource struct {
	openTimeout time.Duration
	jpegQuality int

	cap *gocv.VideoCapture
	mat gocv.Mat
}

// NewVideoSource returns a VideoSource with the given open timeout and JPEG
// encode quality (1-100).
func NewVideoSource(openTimeout time.Duration, jpegQuality int) *VideoSource {
	if openTimeout <= 0 {
		openTimeout = 15 * time.Second
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &VideoSource{openTimeout: openTimeout, jpegQuality: jpegQuality}
}

// Open implements Source.Open. OpenVideoCapture can block for a long time on
// an unreachable host, so it runs in a goroutine and the caller waits at most
// openTimeout; a handle that arrives after the deadline is closed.
func (s *VideoSource) Open(uri string) error {
	s.Close()

	type result struct {
		cap *gocv.VideoCapture
		err error
	}
	ch := make(chan result, 1)
	go func() {
		cap, err := gocv.OpenVideoCapture(uri)
		ch <- result{cap: cap, err: err}
	}()

	var cap *gocv.VideoCapture
	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("open %s: %w", uri, res.err)
		}
		cap = res.cap
	case <-time.After(s.openTimeout):
		go func() {
			if res := <-ch; res.cap != nil {
				res.cap.Close()
			}
		}()
		return ErrOpenTimeout
	}

	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("open %s: capture not opened", uri)
	}

	// Keep the driver buffer minimal so reads return the freshest frame.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	// Verification read: an open handle is not proof of a live stream.
	mat := gocv.NewMat()
	ok := cap.Read(&mat)
	empty := mat.Empty()
	mat.Close()
	if !ok || empty {
		cap.Close()
		return ErrNoData
	}

	s.cap = cap
	s.mat = gocv.NewMat()
	return nil
}

// Read implements Source.Read.
func (s *VideoSource) Read() ([]byte, bool) {
	if s.cap == nil {
		return nil, false
	}
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, false
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.mat,
		[]int{gocv.IMWriteJpegQuality, s.jpegQuality})
	if err != nil {
		return nil, false
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, true
}

// Close implements Source.Close.
func (s *VideoSource) Close() error {
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	s.mat.Close()
	return err
}
