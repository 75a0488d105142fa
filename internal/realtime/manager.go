package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/models"
)

// Health is the rollup of all registered channels.
type Health string

const (
	HealthUnknown    Health = "unknown"
	HealthHealthy    Health = "healthy"
	HealthDegraded   Health = "degraded"
	HealthConnecting Health = "connecting"
)

// ManagerOptions configures a ChannelManager.
type ManagerOptions struct {
	// MaxReconnectAttempts caps reconnection per channel (10 if zero).
	MaxReconnectAttempts int
	// DedupLimit is the per-channel fingerprint window (1000 if zero).
	DedupLimit int
}

// ChannelManager is the process-wide registry of realtime subscriptions.
// All mutation goes through its public methods.
type ChannelManager struct {
	mu          sync.RWMutex
	channels    map[string]*channel
	maxAttempts int
	dedupCap    int
}

// NewChannelManager creates an empty registry.
func NewChannelManager(opts ManagerOptions) *ChannelManager {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	if opts.DedupLimit <= 0 {
		opts.DedupLimit = 1000
	}
	return &ChannelManager{
		channels:    make(map[string]*channel),
		maxAttempts: opts.MaxReconnectAttempts,
		dedupCap:    opts.DedupLimit,
	}
}

// Register adds a subscription in the DISCONNECTED state. Registering an
// existing id replaces it and resets its state.
func (m *ChannelManager) Register(channelID, topic, table, filter string) models.ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := newChannel(channelID, topic, table, filter, m.dedupCap)
	m.channels[channelID] = ch

	logging.Info("Realtime channel registered", map[string]interface{}{
		"channel_id": channelID,
		"topic":      topic,
		"table":      table,
	})
	return ch.info
}

// Remove drops a subscription from the registry.
func (m *ChannelManager) Remove(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
}

// Reset drops every subscription.
func (m *ChannelManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = make(map[string]*channel)
	logging.Info("Realtime channel registry reset", nil)
}

// Apply runs a state-machine event against a channel.
func (m *ChannelManager) Apply(channelID string, ev ChannelEvent) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return TransitionResult{}, errors.New(errors.ErrChannelNotFound, "channel not found: "+channelID)
	}

	res := ch.apply(ev, m.maxAttempts)
	if res.Transitioned {
		logging.Debug("Realtime channel transition", map[string]interface{}{
			"channel_id": channelID,
			"event":      string(ev),
			"previous":   string(res.Previous),
			"next":       string(res.Next),
			"attempts":   res.Attempts,
		})
	}
	return res, nil
}

// ShouldProcessMessage returns true exactly once per message fingerprint per
// channel, and records delivery counters. Messages arriving on a closed
// channel are rejected.
func (m *ChannelManager) ShouldProcessMessage(channelID string, msg *Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return false, errors.New(errors.ErrChannelNotFound, "channel not found: "+channelID)
	}
	if ch.info.State == models.ChannelClosed {
		return false, errors.New(errors.ErrChannelClosed, "channel is closed: "+channelID)
	}

	if !ch.shouldProcess(msg.Fingerprint()) {
		return false, nil
	}
	ch.info.MessageCount++
	ch.info.LastEventAt = time.Now().Unix()
	return true, nil
}

// RecordError bumps a channel's error counter.
func (m *ChannelManager) RecordError(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		ch.info.ErrorCount++
	}
}

// ShouldRetryReconnection reports whether a channel is still under its
// reconnection budget.
func (m *ChannelManager) ShouldRetryReconnection(channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return false
	}
	return ch.info.ReconnectAttempts < m.maxAttempts
}

// ChannelsNeedingReconnection returns channels in RECONNECTING, BACKING_OFF
// or DISCONNECTED that are still eligible to retry. This is the input of the
// reconnection drive loop.
func (m *ChannelManager) ChannelsNeedingReconnection() []models.ChannelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ChannelInfo
	for _, ch := range m.channels {
		switch ch.info.State {
		case models.ChannelReconnecting, models.ChannelBackingOff, models.ChannelDisconnected:
			if ch.info.ReconnectAttempts < m.maxAttempts {
				out = append(out, ch.info)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Channel returns a snapshot of one channel.
func (m *ChannelManager) Channel(channelID string) (models.ChannelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return models.ChannelInfo{}, errors.New(errors.ErrChannelNotFound, "channel not found: "+channelID)
	}
	return ch.info, nil
}

// Channels returns snapshots of all channels sorted by id.
func (m *ChannelManager) Channels() []models.ChannelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ChannelInfo, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Health rolls registered channel states into one signal: HEALTHY when every
// channel is connected, DEGRADED when any channel failed or reconnections
// outnumber connections, UNKNOWN with no channels, CONNECTING otherwise.
func (m *ChannelManager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		return HealthUnknown
	}

	connected, reconnecting, failed := 0, 0, 0
	for _, ch := range m.channels {
		switch ch.info.State {
		case models.ChannelConnected:
			connected++
		case models.ChannelReconnecting, models.ChannelBackingOff:
			reconnecting++
		case models.ChannelFailed:
			failed++
		}
	}

	if failed > 0 || reconnecting > connected {
		return HealthDegraded
	}
	if connected == len(m.channels) {
		return HealthHealthy
	}
	return HealthConnecting
}
