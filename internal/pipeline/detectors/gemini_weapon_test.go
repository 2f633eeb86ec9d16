package detectors

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveil/internal/detection"
	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

type fakeVision struct {
	configured bool
	answer     string
	err        error

	calls   int
	prompts []string
	images  [][]byte
}

func (f *fakeVision) Configured() bool { return f.configured }

func (f *fakeVision) GenerateContent(_ context.Context, prompt string, imageData []byte) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.images = append(f.images, imageData)
	return f.answer, f.err
}

func withPersons(cam pipeline.Camera, boxes ...geometry.Box) *pipeline.DetectContext {
	dc := pipeline.NewDetectContext(cam)
	var persons []pipeline.Event
	for _, b := range boxes {
		persons = append(persons, pipeline.NewEvent(cam.ID, pipeline.EventPersonDetected, 0.9, b, NamePerson))
	}
	dc.Set(pipeline.SignalPersons, persons)
	return dc
}

func blankFrame(w, h int) *pipeline.Frame {
	return pipeline.NewImageFrame(cam0.ID, image.NewRGBA(image.Rect(0, 0, w, h)))
}

var personBox = geometry.Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}

func TestGeminiWeaponDetectorDisabledWithoutKey(t *testing.T) {
	assert.False(t, NewGeminiWeaponDetector(&fakeVision{}, true, 0, nil).Enabled())
	assert.False(t, NewGeminiWeaponDetector(&fakeVision{configured: true}, false, 0, nil).Enabled())
	assert.False(t, NewGeminiWeaponDetector(detection.NewGeminiClient("", "", 0), true, 0, nil).Enabled())
	assert.True(t, NewGeminiWeaponDetector(&fakeVision{configured: true}, true, 0, nil).Enabled())
}

func TestGeminiWeaponDetectorSkipsFramesWithoutPeople(t *testing.T) {
	vision := &fakeVision{configured: true, answer: `{"weapons": []}`}
	d := NewGeminiWeaponDetector(vision, true, 30*time.Second, nil)

	events, err := d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam0))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 0, vision.calls)
	assert.True(t, d.Gate().LastCall(cam0.Handle).IsZero())
}

func TestGeminiWeaponDetectorParsesFencedAnswer(t *testing.T) {
	vision := &fakeVision{configured: true, answer: "```json\n" +
		`{"weapons": [
			{"type": "handgun", "confidence": 0.91234, "held": true, "box": {"x": 0.15, "y": 0.25, "width": 0.05, "height": 0.1}},
			{}
		]}` + "\n```"}
	d := NewGeminiWeaponDetector(vision, true, 30*time.Second, nil)

	events, err := d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam0, personBox))
	require.NoError(t, err)
	require.Len(t, events, 2)

	gun := events[0]
	assert.Equal(t, pipeline.EventWeaponDetected, gun.Type)
	assert.Equal(t, "handgun", gun.WeaponType)
	assert.Equal(t, 0.912, gun.Confidence)
	require.NotNil(t, gun.Held)
	assert.True(t, *gun.Held)
	assert.Equal(t, geometry.Box{X: 0.15, Y: 0.25, Width: 0.05, Height: 0.1}, gun.BoundingBox)
	assert.Equal(t, NameGeminiWeapon, gun.Source)

	// every missing field falls back to its default
	unknown := events[1]
	assert.Equal(t, "unknown", unknown.WeaponType)
	assert.Equal(t, 0.8, unknown.Confidence)
	require.NotNil(t, unknown.Held)
	assert.False(t, *unknown.Held)
	assert.Equal(t, geometry.Box{X: 0, Y: 0, Width: 0.1, Height: 0.1}, unknown.BoundingBox)

	require.Len(t, vision.prompts, 1)
	assert.Contains(t, vision.prompts[0], "A person detector found 1 person(s) at these normalized positions: (x=0.10, y=0.20, w=0.30, h=0.40).")
}

func TestGeminiWeaponDetectorCooldownPerCamera(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	vision := &fakeVision{configured: true, answer: `{"weapons": []}`}
	d := NewGeminiWeaponDetector(vision, true, 30*time.Second, func() time.Time { return now })
	cam1 := pipeline.Camera{ID: "cam_1", Handle: 1}

	detect := func(cam pipeline.Camera) {
		_, err := d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam, personBox))
		require.NoError(t, err)
	}

	detect(cam0)
	assert.Equal(t, 1, vision.calls)
	assert.Equal(t, start, d.Gate().LastCall(cam0.Handle))

	now = start.Add(10 * time.Second)
	detect(cam0)
	assert.Equal(t, 1, vision.calls)

	detect(cam1)
	assert.Equal(t, 2, vision.calls)

	now = start.Add(31 * time.Second)
	detect(cam0)
	assert.Equal(t, 3, vision.calls)
}

func TestGeminiWeaponDetectorMalformedAnswerSpendsQuota(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("unparseable text", func(t *testing.T) {
		vision := &fakeVision{configured: true, answer: "I see no weapons."}
		d := NewGeminiWeaponDetector(vision, true, 30*time.Second, clock)

		events, err := d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam0, personBox))
		assert.Error(t, err)
		assert.Empty(t, events)
		assert.Equal(t, now, d.Gate().LastCall(cam0.Handle))
	})

	t.Run("no candidates", func(t *testing.T) {
		vision := &fakeVision{configured: true, err: &detection.MalformedResponseError{Body: "{}"}}
		d := NewGeminiWeaponDetector(vision, true, 30*time.Second, clock)

		_, err := d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam0, personBox))
		var malformed *detection.MalformedResponseError
		assert.ErrorAs(t, err, &malformed)
		assert.Equal(t, now, d.Gate().LastCall(cam0.Handle))

		_, err = d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam0, personBox))
		assert.NoError(t, err)
		assert.Equal(t, 1, vision.calls)
	})
}

func TestGeminiWeaponDetectorTransportErrorDoesNotStamp(t *testing.T) {
	vision := &fakeVision{configured: true, err: errors.New("connection refused")}
	d := NewGeminiWeaponDetector(vision, true, 30*time.Second, nil)

	for i := 0; i < 2; i++ {
		_, err := d.Detect(context.Background(), blankFrame(64, 48), withPersons(cam0, personBox))
		assert.Error(t, err)
	}
	assert.Equal(t, 2, vision.calls)
	assert.True(t, d.Gate().LastCall(cam0.Handle).IsZero())
}

func TestGeminiWeaponDetectorDownscalesWideFrames(t *testing.T) {
	vision := &fakeVision{configured: true, answer: `{"weapons": []}`}
	d := NewGeminiWeaponDetector(vision, true, 30*time.Second, nil)

	_, err := d.Detect(context.Background(), blankFrame(2560, 1440), withPersons(cam0, personBox))
	require.NoError(t, err)
	require.Len(t, vision.images, 1)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(vision.images[0]))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestBuildWeaponPromptWithoutPeople(t *testing.T) {
	prompt := buildWeaponPrompt(nil)
	assert.Contains(t, prompt, "No people were detected in this frame.")
	assert.Contains(t, prompt, `{"weapons": []}`)
}

func TestParseWeaponResponse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{name: "plain", text: `{"weapons": [{"type": "knife"}]}`, want: 1},
		{name: "fenced without language", text: "```\n{\"weapons\": []}\n```", want: 0},
		{name: "fenced json", text: "  ```json{\"weapons\": [{}, {}]}```", want: 2},
		{name: "prose", text: "nothing here", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWeaponResponse(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}
