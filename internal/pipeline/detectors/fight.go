package detectors

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"surveil/internal/geometry"
	"surveil/internal/pipeline"
	"surveil/internal/tracking"
)

// FightConfig tunes the pose heuristics
type FightConfig struct {
	PoseConfidence     float64       // Minimum person confidence from the pose model
	KeypointConfidence float64       // Minimum keypoint confidence for a limb to count
	ProximityRatio     float64       // Center distance / mean diagonal below which two people are close
	ArmIntrusionMargin float64       // Normalized margin around the other person's box
	VelocityThreshold  float64       // Normalized limb displacement per cycle
	MinCriteria        int           // Optional criteria needed besides proximity
	SustainFrames      int           // Consecutive passing cycles before firing
	Cooldown           time.Duration // Minimum time between fight events per camera
	MatchIoU           float64       // Slot tracking threshold
	Clock              func() time.Time
}

// DefaultFightConfig returns the tuning used when nothing is configured
func DefaultFightConfig() FightConfig {
	return FightConfig{
		PoseConfidence:     0.4,
		KeypointConfidence: 0.3,
		ProximityRatio:     0.8,
		ArmIntrusionMargin: 0.02,
		VelocityThreshold:  0.03,
		MinCriteria:        2,
		SustainFrames:      5,
		Cooldown:           10 * time.Second,
		MatchIoU:           tracking.DefaultMatchIoU,
	}
}

// velocityMatchIoU is the overlap a previous pose needs to be used for velocity
const velocityMatchIoU = 0.2

var (
	wristIndices         = []int{pipeline.KeypointLeftWrist, pipeline.KeypointRightWrist}
	limbIndices          = []int{pipeline.KeypointLeftWrist, pipeline.KeypointRightWrist, pipeline.KeypointLeftElbow, pipeline.KeypointRightElbow}
	wristShoulderIndices = [][2]int{
		{pipeline.KeypointLeftWrist, pipeline.KeypointLeftShoulder},
		{pipeline.KeypointRightWrist, pipeline.KeypointRightShoulder},
	}
)

// pose is one person of the current frame with keypoints in normalized units
type pose struct {
	box        geometry.Box
	keypoints  []pipeline.Keypoint
	confidence float64
}

func (p pose) keypoint(i int) (pipeline.Keypoint, bool) {
	if i >= len(p.keypoints) {
		return pipeline.Keypoint{}, false
	}
	return p.keypoints[i], true
}

// FightDetector reports people from the pose model and fires a fight event
// when a close pair keeps meeting the pose criteria for SustainFrames cycles.
type FightDetector struct {
	capability Capability
	enabled    bool
	cfg        FightConfig
	tracker    *tracking.SlotTracker
	sustain    *tracking.SustainEngine
	previous   *pipeline.Arena[[]pose]
}

// NewFightDetector creates a fight detector. A nil capability disables it.
func NewFightDetector(capability Capability, enabled bool, cfg FightConfig) *FightDetector {
	def := DefaultFightConfig()
	if cfg.PoseConfidence <= 0 {
		cfg.PoseConfidence = def.PoseConfidence
	}
	if cfg.KeypointConfidence <= 0 {
		cfg.KeypointConfidence = def.KeypointConfidence
	}
	if cfg.ProximityRatio <= 0 {
		cfg.ProximityRatio = def.ProximityRatio
	}
	if cfg.ArmIntrusionMargin <= 0 {
		cfg.ArmIntrusionMargin = def.ArmIntrusionMargin
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = def.VelocityThreshold
	}
	if cfg.MinCriteria <= 0 {
		cfg.MinCriteria = def.MinCriteria
	}
	if cfg.SustainFrames <= 0 {
		cfg.SustainFrames = def.SustainFrames
	}
	if cfg.MatchIoU <= 0 {
		cfg.MatchIoU = def.MatchIoU
	}

	d := &FightDetector{
		capability: capability,
		enabled:    enabled && capability != nil,
		cfg:        cfg,
		tracker:    tracking.NewSlotTracker(cfg.MatchIoU),
		sustain:    tracking.NewSustainEngine(cfg.SustainFrames, cfg.Cooldown, cfg.Clock),
		previous:   pipeline.NewArena(func() []pose { return nil }),
	}
	if d.enabled {
		log.Printf("[FightDetector] Ready (pose_conf=%.2f, min_criteria=%d, sustain=%d)",
			cfg.PoseConfidence, cfg.MinCriteria, cfg.SustainFrames)
	}
	return d
}

func (d *FightDetector) Name() string                { return NameFight }
func (d *FightDetector) Enabled() bool               { return d.enabled }
func (d *FightDetector) Requires() []pipeline.Signal { return nil }
func (d *FightDetector) Close() error                { return nil }

// Config returns the tuning in effect after defaults were applied
func (d *FightDetector) Config() FightConfig { return d.cfg }

func (d *FightDetector) Detect(ctx context.Context, frame *pipeline.Frame, dc *pipeline.DetectContext) ([]pipeline.Event, error) {
	w, h, err := frame.Size()
	if err != nil {
		return nil, err
	}

	raws, err := d.capability.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	// Past the deadline the result counts as a failure, so leave slots,
	// sustain buffers and the cooldown as they were.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cam := dc.Camera
	var persons []pipeline.Event
	var poses []pose
	for _, r := range raws {
		if (r.Class != "" && r.Class != "person") || r.Confidence < d.cfg.PoseConfidence {
			continue
		}
		box := geometry.Normalize(r.Box, w, h)
		persons = append(persons, pipeline.NewEvent(cam.ID, pipeline.EventPersonDetected, r.Confidence, box, NameFight))

		if len(r.Keypoints) == 0 {
			continue
		}
		kps := make([]pipeline.Keypoint, len(r.Keypoints))
		for i, kp := range r.Keypoints {
			kps[i] = pipeline.Keypoint{X: kp.X / float64(w), Y: kp.Y / float64(h), Confidence: kp.Confidence}
		}
		poses = append(poses, pose{box: box, keypoints: kps, confidence: r.Confidence})
	}

	boxes := make([]geometry.Box, len(poses))
	for i, p := range poses {
		boxes[i] = p.box
	}
	slots := d.tracker.Assign(cam.Handle, boxes)

	var fights []pipeline.Event
	cycle := d.sustain.Begin(cam.Handle)
	if len(poses) >= 2 {
		velocities := d.velocities(d.previous.Get(cam.Handle), poses)

	pairs:
		for i := 0; i < len(poses); i++ {
			for j := i + 1; j < len(poses); j++ {
				pa, pb := poses[i], poses[j]
				if !d.close(pa, pb) {
					continue
				}

				criteria := d.criteria(pa, pb, velocities[i], velocities[j])
				passed := len(criteria) >= d.cfg.MinCriteria
				if !cycle.Observe(tracking.NewPairKey(slots[i], slots[j]), passed) {
					continue
				}

				conf := math.Min(0.95, math.Min(pa.confidence, pb.confidence)+float64(len(criteria)-d.cfg.MinCriteria)*0.15)
				fights = append(fights, pipeline.NewEvent(cam.ID, pipeline.EventFightDetected, conf, geometry.Union(pa.box, pb.box), NameFight))
				log.Printf("[FightDetector] FIGHT on %s (conf=%.2f, criteria=proximity,%s, sustained=%d frames)",
					cam.ID, conf, strings.Join(criteria, ","), d.sustain.Window())
				break pairs
			}
		}
	}
	cycle.End()

	d.previous.Put(cam.Handle, poses)

	return append(persons, fights...), nil
}

// close is the mandatory proximity gate
func (d *FightDetector) close(a, b pose) bool {
	ax, ay := a.box.Center()
	bx, by := b.box.Center()
	avgDiag := (a.box.Diagonal() + b.box.Diagonal()) / 2
	if avgDiag < 1e-6 {
		return false
	}
	return math.Hypot(ax-bx, ay-by)/avgDiag < d.cfg.ProximityRatio
}

// criteria returns the names of the optional criteria the pair meets
func (d *FightDetector) criteria(a, b pose, velA, velB float64) []string {
	var met []string
	if d.armIntrusion(a, b) || d.armIntrusion(b, a) {
		met = append(met, "arm_intrusion")
	}
	if math.Max(velA, velB) > d.cfg.VelocityThreshold {
		met = append(met, "rapid_movement")
	}
	if d.aggressivePosture(a) || d.aggressivePosture(b) {
		met = append(met, "aggressive_posture")
	}
	return met
}

// armIntrusion reports whether a confident wrist of p is inside target's grown box
func (d *FightDetector) armIntrusion(p, target pose) bool {
	for _, wi := range wristIndices {
		kp, ok := p.keypoint(wi)
		if !ok || kp.Confidence < d.cfg.KeypointConfidence {
			continue
		}
		if target.box.Contains(kp.X, kp.Y, d.cfg.ArmIntrusionMargin) {
			return true
		}
	}
	return false
}

// aggressivePosture reports a confident wrist raised above its shoulder
func (d *FightDetector) aggressivePosture(p pose) bool {
	for _, pair := range wristShoulderIndices {
		wrist, okW := p.keypoint(pair[0])
		shoulder, okS := p.keypoint(pair[1])
		if !okW || !okS || wrist.Confidence < d.cfg.KeypointConfidence || shoulder.Confidence < d.cfg.KeypointConfidence {
			continue
		}
		if wrist.Y < shoulder.Y {
			return true
		}
	}
	return false
}

// velocities returns, per current pose, the largest limb displacement since
// the best-overlapping pose of the previous cycle
func (d *FightDetector) velocities(prev []pose, cur []pose) []float64 {
	out := make([]float64, len(cur))
	if len(prev) == 0 {
		return out
	}

	for i, p := range cur {
		bestIoU := 0.0
		best := -1
		for j, q := range prev {
			if iou := geometry.IoU(p.box, q.box); iou > bestIoU {
				bestIoU = iou
				best = j
			}
		}
		if best < 0 || bestIoU < velocityMatchIoU {
			continue
		}

		for _, li := range limbIndices {
			kp, ok := p.keypoint(li)
			if !ok || kp.Confidence < d.cfg.KeypointConfidence {
				continue
			}
			old, ok := prev[best].keypoint(li)
			if !ok {
				continue
			}
			if v := math.Hypot(kp.X-old.X, kp.Y-old.Y); v > out[i] {
				out[i] = v
			}
		}
	}
	return out
}

// Ensure FightDetector implements Detector
var _ pipeline.Detector = (*FightDetector)(nil)
