package telegram

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
	"redlight/internal/timeutil"
)

const (
	defaultCooldown = 30 * time.Second
	queueSize       = 16
	sendTimeout     = 30 * time.Second
)

// Sender is the part of TelegramBot the notifier uses
type Sender interface {
	SendMessage(ctx context.Context, message string) error
	SendPhoto(ctx context.Context, photoData []byte, caption string) error
}

type alert struct {
	caption string
	photo   []byte
}

// Notifier turns violation records into Telegram alerts. Alerts for the
// same track are rate limited by the cooldown, and sending happens on a
// worker goroutine so the pipeline never waits on the network.
type Notifier struct {
	sender   Sender
	cooldown time.Duration
	clock    timeutil.Clock
	log      logs.Log

	mu       sync.Mutex
	lastSent map[string]time.Time

	queue chan alert
	done  chan struct{}
	once  sync.Once
}

// NewNotifier creates a notifier. Call Start to begin sending.
func NewNotifier(sender Sender, cooldownSeconds int, clock timeutil.Clock, log logs.Log) *Notifier {
	cooldown := time.Duration(cooldownSeconds) * time.Second
	if cooldown == 0 {
		cooldown = defaultCooldown
	}
	return &Notifier{
		sender:   sender,
		cooldown: cooldown,
		clock:    clock,
		log:      logging.Component(log, "Telegram"),
		lastSent: make(map[string]time.Time),
		queue:    make(chan alert, queueSize),
		done:     make(chan struct{}),
	}
}

// Start runs the send loop until ctx is cancelled or Close is called
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.done:
				return
			case a := <-n.queue:
				n.send(ctx, a)
			}
		}
	}()
}

// Close stops the send loop. Queued alerts are dropped.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.done) })
}

func (n *Notifier) send(ctx context.Context, a alert) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var err error
	if len(a.photo) > 0 {
		err = n.sender.SendPhoto(ctx, a.photo, a.caption)
	} else {
		err = n.sender.SendMessage(ctx, a.caption)
	}
	if err != nil {
		n.log.Warnf("Failed to send alert: %v", err)
	}
}

// OnFrameResult queues one alert per violation whose track is out of cooldown
func (n *Notifier) OnFrameResult(result *pipeline.FrameResult) {
	for i := range result.Violations {
		v := &result.Violations[i]
		if !n.allow(v) {
			continue
		}
		a := alert{caption: FormatViolation(v), photo: result.ImageData}
		select {
		case n.queue <- a:
		default:
			n.log.Warnf("Alert queue full, dropping violation %s", v.ID)
		}
	}
}

func (n *Notifier) allow(v *pipeline.ViolationRecord) bool {
	key := fmt.Sprintf("%s/%d", v.SourceID, v.TrackID)
	now := n.clock.Now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.lastSent[key] = now

	// Forget tracks that have been quiet for a while
	for k, t := range n.lastSent {
		if now.Sub(t) > 2*n.cooldown {
			delete(n.lastSent, k)
		}
	}
	return true
}

// FormatViolation renders the alert caption
func FormatViolation(v *pipeline.ViolationRecord) string {
	return fmt.Sprintf(
		"🚦 <b>Red light violation</b>\n\n"+
			"📹 Source: %s\n"+
			"🚗 Vehicle: %s #%d\n"+
			"📏 Line y=%.0f (%.0f → %.0f)\n"+
			"🕐 Time: %s",
		html.EscapeString(v.SourceID),
		html.EscapeString(v.Class), v.TrackID,
		v.LineY, v.Crossing.PrevY, v.Crossing.CurrY,
		v.Timestamp.Format("2 Jan 2006, 15:04:05 MST"),
	)
}

var _ pipeline.ResultHandler = (*Notifier)(nil)
