package motion

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func flatJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestDiffDetector_first_frame_primes(t *testing.T) {
	d := NewDiffDetector(25, 500)
	defer d.Close()

	motion, err := d.Detect(flatJPEG(t, 320, 240, 128))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if motion {
		t.Error("priming frame must not report motion")
	}
}

func TestDiffDetector_resolution_change_reprimes(t *testing.T) {
	d := NewDiffDetector(25, 500)
	defer d.Close()

	if _, err := d.Detect(flatJPEG(t, 320, 240, 128)); err != nil {
		t.Fatalf("priming frame: %v", err)
	}

	// The source switches resolution mid-run; the old reference must be
	// replaced rather than diffed against the new geometry.
	motion, err := d.Detect(flatJPEG(t, 640, 480, 128))
	if err != nil {
		t.Fatalf("resized frame: %v", err)
	}
	if motion {
		t.Error("re-priming frame must not report motion")
	}

	// Detection resumes at the new geometry.
	motion, err = d.Detect(flatJPEG(t, 640, 480, 128))
	if err != nil {
		t.Fatalf("static frame after re-prime: %v", err)
	}
	if motion {
		t.Error("unchanged frame should not report motion")
	}
	motion, err = d.Detect(flatJPEG(t, 640, 480, 250))
	if err != nil {
		t.Fatalf("bright frame: %v", err)
	}
	if !motion {
		t.Error("full-frame brightness jump should report motion")
	}
}

func TestDiffDetector_invalid_jpeg(t *testing.T) {
	d := NewDiffDetector(25, 500)
	defer d.Close()

	if _, err := d.Detect([]byte("not a jpeg")); err == nil {
		t.Error("expected decode error")
	}
}
