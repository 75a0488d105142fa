// Package realtime manages per-subscription channel lifecycle: connection
// state machines, reconnection eligibility, message deduplication and a
// health rollup consumed by UI layers.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/plateshare/synckit/internal/models"
)

// ChannelEvent drives a channel's state machine.
type ChannelEvent string

const (
	EventConnect           ChannelEvent = "connect"
	EventConnected         ChannelEvent = "connected"
	EventDisconnect        ChannelEvent = "disconnect"
	EventConnectionLost    ChannelEvent = "connection_lost"
	EventReconnect         ChannelEvent = "reconnect"
	EventReconnectFailed   ChannelEvent = "reconnect_failed"
	EventBackoffComplete   ChannelEvent = "backoff_complete"
	EventMaxRetriesReached ChannelEvent = "max_retries_reached"
	EventClose             ChannelEvent = "close"
	EventReset             ChannelEvent = "reset"
)

// TransitionResult reports the outcome of applying an event. Callers use
// Transitioned to skip redundant UI updates.
type TransitionResult struct {
	Previous     models.ChannelState
	Next         models.ChannelState
	Transitioned bool
	Attempts     int
}

// channel is a registered subscription plus its dedup window. Guarded by the
// owning manager's lock.
type channel struct {
	info models.ChannelInfo

	// seen is the bounded set of processed message fingerprints; seenOrder
	// trims oldest-first once the cap is reached.
	seen      map[uint64]struct{}
	seenOrder []uint64
	seenCap   int
}

func newChannel(channelID, topic, table, filter string, dedupCap int) *channel {
	return &channel{
		info: models.ChannelInfo{
			ChannelID: channelID,
			Topic:     topic,
			Table:     table,
			Filter:    filter,
			State:     models.ChannelDisconnected,
			CreatedAt: time.Now().Unix(),
		},
		seen:    make(map[uint64]struct{}),
		seenCap: dedupCap,
	}
}

// apply runs one step of the state machine. maxAttempts caps reconnection:
// a RECONNECT_FAILED at or beyond the cap lands in FAILED instead of
// BACKING_OFF. FAILED only leaves via RESET; CLOSED is terminal.
func (c *channel) apply(ev ChannelEvent, maxAttempts int) TransitionResult {
	prev := c.info.State

	if prev == models.ChannelClosed {
		return TransitionResult{Previous: prev, Next: prev, Attempts: c.info.ReconnectAttempts}
	}
	if prev == models.ChannelFailed && ev != EventReset {
		return TransitionResult{Previous: prev, Next: prev, Attempts: c.info.ReconnectAttempts}
	}

	next := prev
	switch ev {
	case EventConnect:
		next = models.ChannelConnecting
	case EventConnected:
		next = models.ChannelConnected
		c.info.ReconnectAttempts = 0
	case EventDisconnect, EventConnectionLost:
		next = models.ChannelDisconnected
	case EventReconnect:
		next = models.ChannelReconnecting
		c.info.ReconnectAttempts++
	case EventReconnectFailed:
		if c.info.ReconnectAttempts >= maxAttempts {
			next = models.ChannelFailed
		} else {
			next = models.ChannelBackingOff
		}
	case EventBackoffComplete:
		next = models.ChannelReconnecting
	case EventMaxRetriesReached:
		next = models.ChannelFailed
	case EventClose:
		next = models.ChannelClosed
		c.info.ReconnectAttempts = 0
	case EventReset:
		next = models.ChannelDisconnected
		c.info.ReconnectAttempts = 0
	}

	c.info.State = next
	return TransitionResult{
		Previous:     prev,
		Next:         next,
		Transitioned: next != prev,
		Attempts:     c.info.ReconnectAttempts,
	}
}

// shouldProcess returns true exactly once per fingerprint, guarding against
// at-least-once delivery from the transport.
func (c *channel) shouldProcess(fp uint64) bool {
	if _, dup := c.seen[fp]; dup {
		return false
	}
	c.seen[fp] = struct{}{}
	c.seenOrder = append(c.seenOrder, fp)
	if len(c.seenOrder) > c.seenCap {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	return true
}

// Message is a realtime change notification as delivered by the transport.
type Message struct {
	Table     string          `json:"table"`
	EventType string          `json:"event_type"`
	RecordID  string          `json:"record_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Fingerprint returns the deterministic dedup hash of a message's
// identifying fields.
func (m *Message) Fingerprint() uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s|%s|%s|%d", m.Table, m.EventType, m.RecordID, m.Timestamp))
}
