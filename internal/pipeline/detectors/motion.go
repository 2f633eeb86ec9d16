package detectors

import (
	"context"
	"image"
	"math"

	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

// MotionConfig tunes the background-difference motion detector
type MotionConfig struct {
	MinArea     float64 // Minimum blob area in px² of the full frame
	Threshold   float64 // Per-sample brightness difference, 16-bit scale
	History     int     // Background running average spans this many frames
	SampleStep  int     // Sample every Nth pixel in both directions
	MergeRadius int     // Dilation radius in px that joins nearby fragments
}

// DefaultMotionConfig returns the tuning used when nothing is configured
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		MinArea:     1500,
		Threshold:   6000,
		History:     500,
		SampleStep:  2,
		MergeRadius: 12,
	}
}

// motionState is the per-camera background model on the sample grid
type motionState struct {
	gw, gh int
	w, h   int
	bg     []float32
}

// MotionDetector finds moving blobs by differencing each frame against a
// per-camera running-average background
type MotionDetector struct {
	enabled bool
	cfg     MotionConfig
	alpha   float32
	cams    *pipeline.Arena[*motionState]
}

// NewMotionDetector creates a motion detector
func NewMotionDetector(enabled bool, cfg MotionConfig) *MotionDetector {
	def := DefaultMotionConfig()
	if cfg.MinArea <= 0 {
		cfg.MinArea = def.MinArea
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.SampleStep <= 0 {
		cfg.SampleStep = def.SampleStep
	}
	if cfg.MergeRadius < 0 {
		cfg.MergeRadius = def.MergeRadius
	}
	return &MotionDetector{
		enabled: enabled,
		cfg:     cfg,
		alpha:   1 / float32(cfg.History),
		cams:    pipeline.NewArena(func() *motionState { return &motionState{} }),
	}
}

func (d *MotionDetector) Name() string                { return NameMotion }
func (d *MotionDetector) Enabled() bool               { return d.enabled }
func (d *MotionDetector) Requires() []pipeline.Signal { return nil }
func (d *MotionDetector) Close() error                { return nil }

// Config returns the tuning in effect after defaults were applied
func (d *MotionDetector) Config() MotionConfig { return d.cfg }

func (d *MotionDetector) Detect(ctx context.Context, frame *pipeline.Frame, dc *pipeline.DetectContext) ([]pipeline.Event, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, err
	}

	step := d.cfg.SampleStep
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gw, gh := (w+step-1)/step, (h+step-1)/step
	if gw == 0 || gh == 0 {
		return nil, nil
	}

	cur := sampleBrightness(img, step, gw, gh)
	st := d.cams.Get(dc.Camera.Handle)
	if st.bg == nil || st.gw != gw || st.gh != gh {
		// first frame or resolution change: learn the scene, report nothing
		*st = motionState{gw: gw, gh: gh, w: w, h: h, bg: cur}
		return nil, nil
	}

	mask := make([]bool, len(cur))
	for i, v := range cur {
		if math.Abs(float64(v-st.bg[i])) > d.cfg.Threshold {
			mask[i] = true
		}
		st.bg[i] += d.alpha * (v - st.bg[i])
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// opening drops isolated specks, dilation merges fragments of one object
	mask = dilate(erode(mask, gw, gh, 1), gw, gh, 1)
	if r := d.cfg.MergeRadius / step; r > 0 {
		mask = dilate(mask, gw, gh, r)
	}

	cellArea := float64(step * step)
	frameArea := float64(w * h)
	var events []pipeline.Event
	for _, blob := range components(mask, gw, gh) {
		area := float64(blob.cells) * cellArea
		if area < d.cfg.MinArea {
			continue
		}
		rect := geometry.Rect{
			X1: float64(blob.minX * step),
			Y1: float64(blob.minY * step),
			X2: math.Min(float64((blob.maxX+1)*step), float64(w)),
			Y2: math.Min(float64((blob.maxY+1)*step), float64(h)),
		}
		conf := math.Min(0.95, area/frameArea*20)
		events = append(events, pipeline.NewEvent(dc.Camera.ID, pipeline.EventMotion, conf, geometry.Normalize(rect, w, h), NameMotion))
	}
	return events, nil
}

// sampleBrightness returns the mean RGB brightness (16-bit scale) on the sample grid
func sampleBrightness(img image.Image, step, gw, gh int) []float32 {
	b := img.Bounds()
	out := make([]float32, gw*gh)

	if ycc, ok := img.(*image.YCbCr); ok {
		for gy := 0; gy < gh; gy++ {
			for gx := 0; gx < gw; gx++ {
				y := ycc.Y[ycc.YOffset(b.Min.X+gx*step, b.Min.Y+gy*step)]
				out[gy*gw+gx] = float32(y) * 257
			}
		}
		return out
	}

	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			r, g, bl, _ := img.At(b.Min.X+gx*step, b.Min.Y+gy*step).RGBA()
			out[gy*gw+gx] = float32(r+g+bl) / 3
		}
	}
	return out
}

func erode(mask []bool, gw, gh, r int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < gh; y++ {
		for x := 0; x < gw; x++ {
			if !mask[y*gw+x] {
				continue
			}
			keep := true
		check:
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= gw || ny >= gh || !mask[ny*gw+nx] {
						keep = false
						break check
					}
				}
			}
			out[y*gw+x] = keep
		}
	}
	return out
}

func dilate(mask []bool, gw, gh, r int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < gh; y++ {
		for x := 0; x < gw; x++ {
			if !mask[y*gw+x] {
				continue
			}
			for ny := max(0, y-r); ny <= min(gh-1, y+r); ny++ {
				for nx := max(0, x-r); nx <= min(gw-1, x+r); nx++ {
					out[ny*gw+nx] = true
				}
			}
		}
	}
	return out
}

type blob struct {
	cells                  int
	minX, minY, maxX, maxY int
}

// components labels 4-connected foreground regions
func components(mask []bool, gw, gh int) []blob {
	seen := make([]bool, len(mask))
	var blobs []blob
	var stack []int

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		bl := blob{minX: gw, minY: gh, maxX: -1, maxY: -1}
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%gw, i/gw
			bl.cells++
			bl.minX, bl.maxX = min(bl.minX, x), max(bl.maxX, x)
			bl.minY, bl.maxY = min(bl.minY, y), max(bl.maxY, y)

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= gw || ny >= gh {
					continue
				}
				j := ny*gw + nx
				if mask[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		blobs = append(blobs, bl)
	}
	return blobs
}

// Ensure MotionDetector implements Detector
var _ pipeline.Detector = (*MotionDetector)(nil)
