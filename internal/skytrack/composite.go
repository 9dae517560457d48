package skytrack

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// Blender accumulates detections into a composite image on disk.
type Blender interface {
	// Blend merges the disc at c from the frame into the composite.
	Blend(jpeg []byte, c Circle) error

	// Path returns the composite file location and whether it exists yet.
	Path() (string, bool)

	// Reset discards the composite so the next Blend starts fresh.
	Reset() error
}

// Compositor keeps the brightest pixel seen at each position, so a day of
// detections paints the object's arc across a single image. The first frame
// seeds a dimmed background; each detection then max-blends its disc in.
// The composite is written to disk after every blend and reloaded on
// restart, surviving process restarts mid-arc.
type Compositor struct {
	path string

	mu        sync.Mutex
	composite gocv.Mat
	loaded    bool
}

// NewCompositor returns a Compositor that persists to path, picking up an
// existing composite if one is already there.
func NewCompositor(path string) *Compositor {
	return &Compositor{path: path}
}

// Blend implements Blender.Blend.
func (c *Compositor) Blend(jpeg []byte, circle Circle) error {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("decode frame: empty image")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLoaded(img); err != nil {
		return err
	}
	if c.composite.Rows() != img.Rows() || c.composite.Cols() != img.Cols() {
		// Stream resolution changed; the old arc cannot be merged.
		c.composite.Close()
		c.loaded = false
		if err := c.ensureLoaded(img); err != nil {
			return err
		}
	}

	mask := gocv.Zeros(img.Rows(), img.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	// Slightly oversized disc so the glow around the object survives.
	gocv.Circle(&mask, image.Pt(circle.X, circle.Y), circle.R+10,
		color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	region := gocv.Zeros(img.Rows(), img.Cols(), gocv.MatType(img.Type()))
	defer region.Close()
	img.CopyToWithMask(&region, mask)

	gocv.Max(c.composite, region, &c.composite)

	if ok := gocv.IMWrite(c.path, c.composite); !ok {
		return fmt.Errorf("write composite %s", c.path)
	}
	return nil
}

// ensureLoaded initialises the in-memory composite from disk, or seeds it
// from the current frame at 30%% brightness when none exists.
func (c *Compositor) ensureLoaded(frame gocv.Mat) error {
	if c.loaded {
		return nil
	}
	if _, err := os.Stat(c.path); err == nil {
		existing := gocv.IMRead(c.path, gocv.IMReadColor)
		if !existing.Empty() {
			c.composite = existing
			c.loaded = true
			return nil
		}
		existing.Close()
	}
	c.composite = frame.Clone()
	c.composite.MultiplyFloat(0.3)
	c.loaded = true
	return nil
}

// Path implements Blender.Path.
func (c *Compositor) Path() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.path, true
	}
	if _, err := os.Stat(c.path); err == nil {
		return c.path, true
	}
	return c.path, false
}

// Reset implements Blender.Reset.
func (c *Compositor) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		c.composite.Close()
		c.loaded = false
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove composite: %w", err)
	}
	return nil
}

// Close releases the in-memory composite.
func (c *Compositor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		c.composite.Close()
		c.loaded = false
	}
}
