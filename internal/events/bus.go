package events

import (
	"sync"
)

// StatusMessage is pushed on the per-user status channel.
type StatusMessage struct {
	Type   string `json:"type"` // "bot_status_update" or "bot_deleted"
	BotID  string `json:"botId"`
	Status string `json:"status,omitempty"`
}

// LogMessage is pushed on the per-bot log channel.
type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

const subscriberBuffer = 64

// Bus fans out status transitions to per-user subscribers and log records to
// per-bot subscribers. Sends never block: a subscriber whose buffer is full
// misses the message, and a counter callback records the drop.
type Bus struct {
	mu     sync.RWMutex
	status map[string]chan StatusMessage // at most one per user
	logs   map[string]map[chan LogMessage]struct{}

	// OnDrop, if set, is invoked with the channel kind when a message is
	// discarded because the subscriber is not keeping up.
	OnDrop func(kind string)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		status: make(map[string]chan StatusMessage),
		logs:   make(map[string]map[chan LogMessage]struct{}),
	}
}

// SubscribeStatus registers the single live status channel for a user,
// replacing (and closing) any previous one. The returned cancel func
// unregisters and closes the channel unless it was already replaced.
func (b *Bus) SubscribeStatus(userID string) (<-chan StatusMessage, func()) {
	ch := make(chan StatusMessage, subscriberBuffer)

	b.mu.Lock()
	if old, ok := b.status[userID]; ok {
		close(old)
	}
	b.status[userID] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.status[userID] == ch {
			delete(b.status, userID)
			close(ch)
		}
	}
	return ch, cancel
}

// BroadcastStatus delivers a status message to the user's subscriber, if any.
// Absent or saturated subscribers are a silent no-op. The send happens under
// the read lock: channels are only ever closed under the write lock, so a
// send can never land on a closed channel.
func (b *Bus) BroadcastStatus(userID string, msg StatusMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.status[userID]
	if !ok {
		return
	}

	select {
	case ch <- msg:
	default:
		b.drop("status")
	}
}

// SubscribeLogs registers a live-console subscriber for a bot. Multiple
// consoles may watch the same bot.
func (b *Bus) SubscribeLogs(botID string) (<-chan LogMessage, func()) {
	ch := make(chan LogMessage, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.logs[botID]
	if !ok {
		subs = make(map[chan LogMessage]struct{})
		b.logs[botID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.logs[botID]; ok {
			if _, present := subs[ch]; present {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.logs, botID)
			}
		}
	}
	return ch, cancel
}

// PublishLog delivers a log message to every live console watching the bot.
// Sends stay under the read lock for the same reason as BroadcastStatus.
func (b *Bus) PublishLog(botID string, msg LogMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.logs[botID] {
		select {
		case ch <- msg:
		default:
			b.drop("logs")
		}
	}
}

func (b *Bus) drop(kind string) {
	if b.OnDrop != nil {
		b.OnDrop(kind)
	}
}
