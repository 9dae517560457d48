package motion

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Detector reports whether a frame shows motion relative to the previous
// frame it saw. Implementations are stateful and not safe for concurrent
// use; the detection loop is the only caller.
type Detector interface {
	Detect(jpeg []byte) (bool, error)
	Close()
}

// DiffDetector detects motion by grayscale frame differencing: blur,
// absolute delta against the previous frame, binary threshold, dilate, then
// contour area check.
type DiffDetector struct {
	sensitivity int
	minArea     float64

	prev    gocv.Mat
	hasPrev bool
	kernel  gocv.Mat
}

// NewDiffDetector returns a detector. sensitivity is the per-pixel delta
// threshold (0 = most sensitive); minArea is the smallest contour area, in
// pixels, treated as real motion.
func NewDiffDetector(sensitivity, minArea int) *DiffDetector {
	return &DiffDetector{
		sensitivity: sensitivity,
		minArea:     float64(minArea),
		kernel:      gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// Detect implements Detector.Detect. The first frame only primes the
// reference and never reports motion.
func (d *DiffDetector) Detect(jpeg []byte) (bool, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return false, fmt.Errorf("decode frame: empty image")
	}

	gray := gocv.NewMat()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(21, 21), 0, 0, gocv.BorderDefault)

	if !d.hasPrev {
		d.prev = gray
		d.hasPrev = true
		return false, nil
	}

	// Stream resolution changed; the stale reference cannot be diffed.
	if gray.Rows() != d.prev.Rows() || gray.Cols() != d.prev.Cols() {
		d.prev.Close()
		d.prev = gray
		return false, nil
	}

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(d.prev, gray, &delta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, float32(d.sensitivity), 255, gocv.ThresholdBinary)
	gocv.Dilate(thresh, &thresh, d.kernel)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	detected := false
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= d.minArea {
			detected = true
			break
		}
	}

	d.prev.Close()
	d.prev = gray
	return detected, nil
}

// Close releases the detector's OpenCV buffers.
func (d *DiffDetector) Close() {
	if d.hasPrev {
		d.prev.Close()
		d.hasPrev = false
	}
	d.kernel.Close()
}
