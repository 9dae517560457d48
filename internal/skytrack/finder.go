package skytrack

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Circle is a detected sky-object candidate in frame coordinates.
type Circle struct {
	X, Y, R int
}

// Finder locates the tracked object (sun or moon) in a frame.
type Finder interface {
	Find(jpeg []byte) (Circle, bool, error)
}

// edgeMargin keeps detections away from the frame border, where lens
// artifacts produce false circles.
const edgeMargin = 50

// HoughFinder detects bright circular objects with the Hough transform and
// validates candidates by brightness, uniformity, and falloff outside the
// disc.
type HoughFinder struct {
	brightnessThreshold float64
	minRadius           int
	maxRadius           int
}

// NewHoughFinder returns a Finder tuned for the given brightness threshold
// (0-255) and radius range in pixels.
func NewHoughFinder(brightnessThreshold, minRadius, maxRadius int) *HoughFinder {
	return &HoughFinder{
		brightnessThreshold: float64(brightnessThreshold),
		minRadius:           minRadius,
		maxRadius:           maxRadius,
	}
}

// Find implements Finder.Find, returning the best-scoring valid candidate.
func (f *HoughFinder) Find(jpeg []byte) (Circle, bool, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return Circle{}, false, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return Circle{}, false, fmt.Errorf("decode frame: empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(9, 9), 2, 2, gocv.BorderDefault)

	circles := gocv.NewMat()
	defer circles.Close()
	// Strict parameters: the tracked object should be alone in the sky.
	gocv.HoughCirclesWithParams(blurred, &circles, gocv.HoughGradient,
		1, 200, 100, 50, f.minRadius, f.maxRadius)

	best := Circle{}
	bestScore := 0.0
	found := false

	for i := 0; i < circles.Cols(); i++ {
		v := circles.GetVecfAt(0, i)
		c := Circle{X: int(v[0]), Y: int(v[1]), R: int(v[2])}

		brightness, ok := f.validate(gray, c)
		if !ok {
			continue
		}

		score := brightness * float64(c.R) / float64(f.maxRadius)
		if score > bestScore {
			bestScore = score
			best = c
			found = true
		}
	}

	return best, found, nil
}

// validate checks that a candidate looks like the tracked object: away from
// the frame edge, bright and uniform inside the disc, with a clear
// brightness drop just outside it. Returns the disc's mean brightness.
func (f *HoughFinder) validate(gray gocv.Mat, c Circle) (float64, bool) {
	h, w := gray.Rows(), gray.Cols()
	if c.X < edgeMargin || c.X > w-edgeMargin || c.Y < edgeMargin || c.Y > h-edgeMargin {
		return 0, false
	}

	inner := gocv.Zeros(h, w, gocv.MatTypeCV8U)
	defer inner.Close()
	gocv.Circle(&inner, image.Pt(c.X, c.Y), c.R, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	innerMean := gray.MeanWithMask(inner)
	if innerMean.Val1 < f.brightnessThreshold {
		return 0, false
	}

	roi := gray.Region(discROI(c, w, h))
	meanMat := gocv.NewMat()
	stdMat := gocv.NewMat()
	gocv.MeanStdDev(roi, &meanMat, &stdMat)
	std := stdMat.GetDoubleAt(0, 0)
	roi.Close()
	meanMat.Close()
	stdMat.Close()
	// A bright disc is uniform; a stray reflection is not.
	if std > 90 {
		return 0, false
	}

	ring := gocv.Zeros(h, w, gocv.MatTypeCV8U)
	defer ring.Close()
	gocv.Circle(&ring, image.Pt(c.X, c.Y), c.R*3/2, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	gocv.Circle(&ring, image.Pt(c.X, c.Y), c.R, color.RGBA{}, -1)

	ringMean := gray.MeanWithMask(ring)
	if innerMean.Val1-ringMean.Val1 < 30 {
		return 0, false
	}

	return innerMean.Val1, true
}

// discROI is the inscribed square of the disc, clamped to the frame bounds so
// it is always a valid region even when the disc overlaps the border. Only
// disc pixels end up in the uniformity measurement.
func discROI(c Circle, w, h int) image.Rectangle {
	half := c.R * 7 / 10
	if half < 1 {
		half = 1
	}
	r := image.Rect(c.X-half, c.Y-half, c.X+half, c.Y+half)
	return r.Intersect(image.Rect(0, 0, w, h))
}
