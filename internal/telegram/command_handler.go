package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"surveil/internal/camera"
	"surveil/internal/database"
	"surveil/internal/pipeline"
)

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the part of a Telegram message the command handler reads
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Cameras is what the command handler needs from the camera manager
type Cameras interface {
	List() []camera.Info
	LatestFrame(cameraID string) (*pipeline.Frame, bool)
}

// EventLister reads persisted events
type EventLister interface {
	ListEvents(ctx context.Context, q database.EventQuery) ([]pipeline.Event, error)
}

// CommandBot is the bot surface used for polling and replies
type CommandBot interface {
	Sender
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	ChatID() string
}

// CommandHandler answers bot commands from the alert chat
type CommandHandler struct {
	bot          CommandBot
	cameras      Cameras
	events       EventLister
	lastUpdateID int64
	startTime    time.Time
	mu           sync.Mutex
}

// NewCommandHandler creates a new command handler. events may be nil.
func NewCommandHandler(bot CommandBot, cameras Cameras, events EventLister) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		cameras:   cameras,
		events:    events,
		startTime: time.Now(),
	}
}

// StartPolling polls for updates every two seconds until ctx is done
func (ch *CommandHandler) StartPolling(ctx context.Context) {
	log.Printf("[Telegram] Command handler polling started")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command handler stopped")
			return
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes pending updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	updates, err := ch.bot.GetUpdates(ctx, offset, 1)
	if err != nil {
		return err
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage dispatches a command. Messages from other chats are ignored.
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage) {
	if msg.Chat == nil {
		return
	}
	if chatID := strconv.FormatInt(msg.Chat.ID, 10); chatID != ch.bot.ChatID() {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatID)
		return
	}
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// /status@mybot
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	var response string
	switch command {
	case "/start":
		response = "🤖 <b>Welcome to surveil!</b>\n\n" +
			"I send an alert when a weapon or a fight is detected.\n\n" +
			"Use /help to see available commands."
	case "/help":
		response = handleHelp()
	case "/status":
		response = ch.handleStatus()
	case "/cameras":
		response = ch.handleCameras()
	case "/snapshot":
		response = ch.handleSnapshot(ctx, args)
	case "/events":
		response = ch.handleEvents(ctx, args)
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if response != "" {
		if err := ch.bot.SendMessage(ctx, response); err != nil {
			log.Printf("[Telegram] Failed to send reply: %v", err)
		}
	}
}

func handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - System status\n" +
		"/cameras - List all cameras\n" +
		"/snapshot &lt;name&gt; - Latest frame from a camera\n" +
		"/events [limit] - Recent detection events\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	cameras := ch.cameras.List()
	online := 0
	for _, cam := range cameras {
		if cam.Status == camera.StatusOnline {
			online++
		}
	}

	return fmt.Sprintf(
		"📊 <b>System Status</b>\n\n"+
			"📹 Cameras: %d total, %d online\n"+
			"⏱️ Uptime: %s",
		len(cameras), online,
		formatDuration(time.Since(ch.startTime)),
	)
}

func (ch *CommandHandler) handleCameras() string {
	cameras := ch.cameras.List()
	if len(cameras) == 0 {
		return "📹 <b>Cameras</b>\n\nNo cameras configured."
	}

	var sb strings.Builder
	sb.WriteString("📹 <b>Cameras</b>\n\n")
	for _, cam := range cameras {
		icon := "🔴"
		if cam.Status == camera.StatusOnline {
			icon = "🟢"
		}
		fmt.Fprintf(&sb, "%s <b>%s</b> (%s)\n", icon, cam.Name, cam.ID)
		if cam.Location != "" {
			fmt.Fprintf(&sb, "   %s\n", cam.Location)
		}
	}
	return sb.String()
}

// handleSnapshot sends the latest frame as a photo. It returns a reply
// only when no photo went out.
func (ch *CommandHandler) handleSnapshot(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "⚠️ Usage: /snapshot &lt;camera_name&gt;\n\nUse /cameras to see available cameras."
	}

	cam, err := ch.findCamera(strings.Join(args, " "))
	if err != nil {
		return err.Error()
	}

	frame, ok := ch.cameras.LatestFrame(cam.ID)
	if !ok {
		return fmt.Sprintf("⚠️ Camera '%s' is offline.", cam.Name)
	}
	data, err := frame.JPEG()
	if err != nil {
		return fmt.Sprintf("❌ Failed to read frame: %v", err)
	}

	zoneName, _ := frame.Timestamp.Zone()
	caption := fmt.Sprintf("📸 <b>Snapshot</b>\n\n📹 Camera: %s\n🕐 Time: %s %s",
		cam.Name, frame.Timestamp.Format("Jan 2, 2006, 03:04:05 PM"), zoneName)

	if err := ch.bot.SendPhoto(ctx, data, caption); err != nil {
		return fmt.Sprintf("❌ Failed to send snapshot: %v", err)
	}
	return ""
}

func (ch *CommandHandler) handleEvents(ctx context.Context, args []string) string {
	if ch.events == nil {
		return "📋 <b>Recent Events</b>\n\nEvent history is not available."
	}

	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	events, err := ch.events.ListEvents(ctx, database.EventQuery{Limit: limit})
	if err != nil {
		return fmt.Sprintf("❌ Failed to load events: %v", err)
	}
	if len(events) == 0 {
		return "📋 <b>Recent Events</b>\n\nNo events recorded."
	}

	names := make(map[string]string)
	for _, cam := range ch.cameras.List() {
		names[cam.ID] = cam.Name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>Recent Events</b> (last %d)\n\n", len(events))
	for i, ev := range events {
		name := names[ev.CameraID]
		if name == "" {
			name = ev.CameraID
		}
		zoneName, _ := ev.Timestamp.Zone()
		detail := string(ev.Type)
		if ev.WeaponType != "" {
			detail += ": " + ev.WeaponType
		}
		fmt.Fprintf(&sb, "%d. %s %s (%s, %.0f%%)\n   📹 %s\n",
			i+1, ev.Timestamp.Format("Jan 2, 03:04 PM"), zoneName, detail, ev.Confidence*100, name)
	}
	return sb.String()
}

// findCamera matches an id exactly, then a name case-insensitively
func (ch *CommandHandler) findCamera(nameOrID string) (camera.Info, error) {
	cameras := ch.cameras.List()
	for _, cam := range cameras {
		if cam.ID == nameOrID {
			return cam, nil
		}
	}

	var matches []camera.Info
	for _, cam := range cameras {
		if strings.EqualFold(cam.Name, nameOrID) {
			matches = append(matches, cam)
		}
	}
	switch len(matches) {
	case 0:
		return camera.Info{}, fmt.Errorf("❌ Camera '%s' not found.\n\nUse /cameras to see available cameras.", nameOrID)
	case 1:
		return matches[0], nil
	default:
		return camera.Info{}, fmt.Errorf("⚠️ Multiple cameras named '%s'. Use the camera id instead.", nameOrID)
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Ensure TelegramBot can drive the command handler
var _ CommandBot = (*TelegramBot)(nil)
