package composition

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	// DefaultTolerance is the CIE76 ΔE under which two samples count as equal.
	DefaultTolerance = 10

	minOverlapRows = 8
	rowSamples     = 64
)

var framePattern = regexp.MustCompile(`^(\d+)\.png$`)

// Stitcher is the built-in Engine. It merges scrolling screenshots
// vertically, dropping the rows each frame shares with the previous one.
type Stitcher struct {
	Tolerance float64
}

func NewStitcher(tolerance float64) *Stitcher {
	return &Stitcher{Tolerance: tolerance}
}

type row struct {
	samples []colorful.Color
	uniform bool
}

type frame struct {
	img    *image.NRGBA
	rows   []row
	top    int
	bottom int
	skip   int
}

func (f *frame) visible() int {
	return f.bottom - f.top
}

// Compose merges the numbered frames in dir.
func (s *Stitcher) Compose(ctx context.Context, dir string, cfg ImageConfig) (image.Image, error) {
	paths, err := listFrames(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &ProcessError{Message: "No images to merge", Err: ErrNoImages}
	}

	frames := make([]*frame, 0, len(paths))
	scale := 1.0
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := imgio.Open(p)
		if err != nil {
			return nil, &ProcessError{
				Message: "Invalid image",
				Err:     fmt.Errorf("%w %s: %v", ErrDecode, filepath.Base(p), err),
			}
		}
		if i == 0 {
			scale = scaleFactor(img.Bounds(), cfg.ScalingThresholdPixels)
		}
		frames = append(frames, s.newFrame(resize(img, scale)))
	}

	width := frames[0].img.Bounds().Dx()
	for i, f := range frames {
		if w := f.img.Bounds().Dx(); w != width {
			return nil, &ProcessError{
				Message: "Images must have the same width",
				Err:     fmt.Errorf("%w: frame %d is %dpx wide, expected %dpx", ErrWidthMismatch, i+1, w, width),
			}
		}
	}

	for i, f := range frames {
		f.top, f.bottom = 0, len(f.rows)
		if cfg.HeaderTrimMode != HeaderTrimNone {
			f.top, f.bottom = trimUniform(f.rows, f.top, f.bottom)
		}
		if cfg.HeaderTrimMode == HeaderTrimTitleBar {
			f.top = skipLeadingBand(f.rows, f.top, f.bottom)
		}
		if !cfg.MergeCloseButton && i == len(frames)-1 {
			f.bottom = dropTrailingBand(f.rows, f.top, f.bottom)
		}
	}

	height := frames[0].visible()
	for i := 1; i < len(frames); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frames[i].skip = s.overlap(frames[i-1], frames[i])
		height += frames[i].visible() - frames[i].skip
	}

	canvas := imaging.New(width, height, color.White)
	y := 0
	for _, f := range frames {
		start := f.top + f.skip
		if start >= f.bottom {
			continue
		}
		segment := imaging.Crop(f.img, image.Rect(0, start, width, f.bottom))
		canvas = imaging.Paste(canvas, segment, image.Pt(0, y))
		y += f.bottom - start
	}

	slog.Debug("Frames merged", "frames", len(frames), "width", width, "height", height, "scale", scale)
	return canvas, nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}

	type numbered struct {
		n    int
		path string
	}
	var found []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := framePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

func scaleFactor(b image.Rectangle, threshold int) float64 {
	area := b.Dx() * b.Dy()
	if threshold <= 0 || area <= threshold {
		return 1
	}
	return math.Sqrt(float64(threshold) / float64(area))
}

func resize(img image.Image, scale float64) *image.NRGBA {
	if scale == 1 {
		return imaging.Clone(img)
	}
	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

func (s *Stitcher) newFrame(img *image.NRGBA) *frame {
	b := img.Bounds()
	n := min(rowSamples, b.Dx())

	f := &frame{img: img, rows: make([]row, b.Dy())}
	for y := 0; y < b.Dy(); y++ {
		samples := make([]colorful.Color, n)
		for i := 0; i < n; i++ {
			x := 0
			if n > 1 {
				x = i * (b.Dx() - 1) / (n - 1)
			}
			samples[i], _ = colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
		}

		uniform := true
		for i := 1; i < n; i++ {
			if s.delta(samples[0], samples[i]) > s.Tolerance {
				uniform = false
				break
			}
		}
		f.rows[y] = row{samples: samples, uniform: uniform}
	}
	return f
}

// delta is the CIE76 distance on the usual 0-100 lightness scale.
func (s *Stitcher) delta(a, b colorful.Color) float64 {
	return a.DistanceLab(b) * 100
}

func (s *Stitcher) rowsMatch(a, b row) bool {
	for i := range a.samples {
		if s.delta(a.samples[i], b.samples[i]) > s.Tolerance {
			return false
		}
	}
	return true
}

// overlap is the largest k for which the last k visible rows of prev equal
// the first k visible rows of next. Bands made only of uniform rows do not
// count, they match anywhere.
func (s *Stitcher) overlap(prev, next *frame) int {
	maxK := min(prev.visible(), next.visible())
	for k := maxK; k >= minOverlapRows; k-- {
		tail := prev.rows[prev.bottom-k : prev.bottom]
		head := next.rows[next.top : next.top+k]

		matched, informative := true, false
		for i := 0; i < k; i++ {
			if !s.rowsMatch(tail[i], head[i]) {
				matched = false
				break
			}
			if !tail[i].uniform {
				informative = true
			}
		}
		if matched && informative {
			return k
		}
	}
	return 0
}

// trimUniform drops uniform rows at both ends, keeping at least one row.
func trimUniform(rows []row, top, bottom int) (int, int) {
	for top < bottom-1 && rows[top].uniform {
		top++
	}
	for bottom-1 > top && rows[bottom-1].uniform {
		bottom--
	}
	return top, bottom
}

// skipLeadingBand moves top past the first non-uniform band and the
// separator under it. Frames without such a separator are left alone.
func skipLeadingBand(rows []row, top, bottom int) int {
	i := top
	for i < bottom && rows[i].uniform {
		i++
	}
	for i < bottom && !rows[i].uniform {
		i++
	}
	if i == bottom {
		return top
	}
	for i < bottom && rows[i].uniform {
		i++
	}
	if i == bottom {
		return top
	}
	return i
}

// dropTrailingBand is skipLeadingBand mirrored from the bottom.
func dropTrailingBand(rows []row, top, bottom int) int {
	i := bottom
	for i > top && rows[i-1].uniform {
		i--
	}
	for i > top && !rows[i-1].uniform {
		i--
	}
	if i == top {
		return bottom
	}
	for i > top && rows[i-1].uniform {
		i--
	}
	if i == top {
		return bottom
	}
	return i
}
