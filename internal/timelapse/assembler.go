package timelapse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// assetExt is the container extension for daily video assets.
const assetExt = ".mp4"

// dateLayout is the ISO date used to name daily assets.
const dateLayout = "2006-01-02"

// Assembler owns the per-day video assets. The first segment of a day is
// promoted to the asset by an atomic move; later segments are concatenated
// into a temporary output that atomically replaces the asset, so a failed
// append can never leave a corrupt file as the visible daily video.
type Assembler struct {
	dir    string
	runner Runner
	log    *slog.Logger
}

// NewAssembler creates the asset directory if needed.
func NewAssembler(dir string, runner Runner, log *slog.Logger) (*Assembler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &Assembler{dir: dir, runner: runner, log: log}, nil
}

// AssetPath returns where the asset for the given ISO date lives, whether or
// not it exists yet.
func (a *Assembler) AssetPath(date string) string {
	return filepath.Join(a.dir, date+assetExt)
}

// VideoPath returns the asset path for date and whether the asset exists.
func (a *Assembler) VideoPath(date string) (string, bool) {
	p := a.AssetPath(date)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// AvailableDates lists dates with an asset on disk, newest first. The
// current day is always included so clients can poll for it before its
// first flush.
func (a *Assembler) AvailableDates(today string) []string {
	seen := map[string]bool{today: true}
	dates := []string{today}

	items, err := os.ReadDir(a.dir)
	if err != nil {
		return dates
	}
	for _, it := range items {
		name := it.Name()
		if it.IsDir() || !strings.HasSuffix(name, assetExt) {
			continue
		}
		date := strings.TrimSuffix(name, assetExt)
		// Anything that is not <date>.mp4 is a stray, e.g. a temporary
		// concat output left behind by a crash mid-append.
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}
		if !seen[date] {
			seen[date] = true
			dates = append(dates, date)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// AppendSegment merges segPath into the asset for date. On success the
// segment file is gone (moved or deleted); on failure the previous asset is
// untouched and segPath is left in place for the caller to dispose of.
func (a *Assembler) AppendSegment(ctx context.Context, date, segPath string) error {
	asset := a.AssetPath(date)

	if _, err := os.Stat(asset); os.IsNotExist(err) {
		// First segment of the day becomes the asset; no encode step needed.
		if err := os.Rename(segPath, asset); err != nil {
			return fmt.Errorf("promote segment: %w", err)
		}
		a.log.Info("daily asset created",
			slog.String("date", date),
			slog.String("path", asset))
		return nil
	}

	tmp := asset + ".tmp" + assetExt
	if err := a.runner.Concat(ctx, asset, segPath, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("append segment: %w", err)
	}
	if err := os.Rename(tmp, asset); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace asset: %w", err)
	}
	os.Remove(segPath)

	a.log.Info("segment appended to daily asset", slog.String("date", date))
	return nil
}
