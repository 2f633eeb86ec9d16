package telegram

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"surveil/internal/pipeline"
)

// DefaultAlertCooldown is the minimum time between two alerts of the same
// type for the same camera
const DefaultAlertCooldown = 60 * time.Second

// Sender delivers alert messages
type Sender interface {
	SendMessage(ctx context.Context, message string) error
	SendPhoto(ctx context.Context, photoData []byte, caption string) error
}

// Marker records that an event was notified, typically the event store
type Marker interface {
	MarkNotified(ctx context.Context, id string) error
}

// NotifierConfig configures the alert notifier
type NotifierConfig struct {
	Types    []pipeline.EventType // Event types that raise an alert
	Cooldown time.Duration
	Names    map[string]string // Camera id -> display name
	Clock    func() time.Time
}

type alertKey struct {
	cameraID  string
	eventType pipeline.EventType
}

// Notifier turns high-severity events into Telegram alerts with the
// camera's latest frame attached when one is available
type Notifier struct {
	sender Sender
	frames pipeline.FrameSource
	marker Marker
	cfg    NotifierConfig
	types  map[pipeline.EventType]bool

	mu       sync.Mutex
	lastSent map[alertKey]time.Time
}

// NewNotifier creates a notifier. frames and marker may be nil.
func NewNotifier(sender Sender, frames pipeline.FrameSource, marker Marker, cfg NotifierConfig) *Notifier {
	if len(cfg.Types) == 0 {
		cfg.Types = []pipeline.EventType{pipeline.EventWeaponDetected, pipeline.EventFightDetected}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultAlertCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	types := make(map[pipeline.EventType]bool, len(cfg.Types))
	for _, t := range cfg.Types {
		types[t] = true
	}

	return &Notifier{
		sender:   sender,
		frames:   frames,
		marker:   marker,
		cfg:      cfg,
		types:    types,
		lastSent: make(map[alertKey]time.Time),
	}
}

// Run sends alerts for events from the channel until it closes or ctx is done
func (n *Notifier) Run(ctx context.Context, events <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := n.Notify(ctx, ev); err != nil {
				log.Printf("[Telegram] Alert for %s on %s failed: %v", ev.Type, ev.CameraID, err)
			}
		}
	}
}

// Notify sends an alert for ev unless its type is not alerting or the
// camera is cooling down. It reports whether an alert went out.
func (n *Notifier) Notify(ctx context.Context, ev pipeline.Event) (bool, error) {
	if !n.types[ev.Type] {
		return false, nil
	}

	key := alertKey{cameraID: ev.CameraID, eventType: ev.Type}
	now := n.cfg.Clock()

	n.mu.Lock()
	last, seen := n.lastSent[key]
	if seen && now.Sub(last) < n.cfg.Cooldown {
		n.mu.Unlock()
		return false, nil
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	message := n.format(ev)

	var err error
	if frame, ok := n.latestFrame(ev.CameraID); ok {
		err = n.sender.SendPhoto(ctx, frame, message)
	} else {
		err = n.sender.SendMessage(ctx, message)
	}
	if err != nil {
		// let the next event retry instead of waiting a full cooldown
		n.mu.Lock()
		if seen {
			n.lastSent[key] = last
		} else {
			delete(n.lastSent, key)
		}
		n.mu.Unlock()
		return false, err
	}

	if n.marker != nil {
		if err := n.marker.MarkNotified(ctx, ev.ID); err != nil {
			log.Printf("[Telegram] %v", err)
		}
	}
	log.Printf("[Telegram] Alert sent: %s on %s", ev.Type, ev.CameraID)
	return true, nil
}

func (n *Notifier) latestFrame(cameraID string) ([]byte, bool) {
	if n.frames == nil {
		return nil, false
	}
	frame, ok := n.frames.LatestFrame(cameraID)
	if !ok {
		return nil, false
	}
	data, err := frame.JPEG()
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (n *Notifier) format(ev pipeline.Event) string {
	name := n.cfg.Names[ev.CameraID]
	if name == "" {
		name = ev.CameraID
	}

	var title, detail string
	switch ev.Type {
	case pipeline.EventWeaponDetected:
		title = "Weapon Detected!"
		detail = "🔫 Weapon: " + ev.WeaponType
		if ev.Held != nil {
			if *ev.Held {
				detail += " (held)"
			} else {
				detail += " (unattended)"
			}
		}
	case pipeline.EventFightDetected:
		title = "Fight Detected!"
		detail = "🥊 Physical altercation in progress"
	default:
		title = "Detection Alert!"
		detail = "🎯 Detected: " + string(ev.Type)
	}

	ts := ev.Timestamp.Local()
	zoneName, _ := ts.Zone()

	return fmt.Sprintf(
		"🚨 <b>%s</b>\n\n"+
			"📹 Camera: %s\n"+
			"%s\n"+
			"📊 Confidence: %.0f%%\n"+
			"🕐 Time: %s %s",
		title,
		name,
		detail,
		ev.Confidence*100,
		ts.Format("2 Jan 2006, 15:04:05"),
		zoneName,
	)
}

// Ensure TelegramBot implements Sender
var _ Sender = (*TelegramBot)(nil)
