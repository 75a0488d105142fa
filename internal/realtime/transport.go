package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/retry"
)

// MessageHandler consumes deduplicated realtime messages for a channel.
type MessageHandler func(channelID string, msg *Message)

// subscribeFrame is sent once per channel after a socket is established.
type subscribeFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Table  string `json:"table,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// Transport pumps realtime messages from a websocket endpoint into the
// channel registry, driving each channel's state machine and reconnection
// off the configured backoff preset.
type Transport struct {
	url     string
	manager *ChannelManager
	backoff retry.Preset
	handler MessageHandler
	dialer  *websocket.Dialer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTransport creates a transport bound to a channel registry.
func NewTransport(url string, manager *ChannelManager, backoff retry.Preset, handler MessageHandler) *Transport {
	return &Transport{
		url:     url,
		manager: manager,
		backoff: backoff,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Start launches the connection loop. A second Start is a no-op until Stop.
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx)
}

// Stop closes the socket and marks every channel CLOSED.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
	for _, info := range t.manager.Channels() {
		t.manager.Apply(info.ChannelID, EventClose)
	}
}

// run dials, pumps messages and reconnects until stopped or no channel is
// eligible for reconnection. Each failed attempt walks the eligible channels
// through RECONNECT_FAILED, a backoff wait, BACKOFF_COMPLETE and RECONNECT.
func (t *Transport) run(ctx context.Context) {
	defer t.wg.Done()

	reconnecting := false
	for {
		if reconnecting {
			for _, info := range t.manager.ChannelsNeedingReconnection() {
				t.manager.Apply(info.ChannelID, EventReconnect)
			}
		}

		conn, err := t.connect(ctx)
		if err != nil {
			if !t.backoffRound(ctx) {
				return
			}
			reconnecting = true
			continue
		}
		reconnecting = false

		t.readLoop(ctx, conn)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		for _, info := range t.manager.Channels() {
			t.manager.Apply(info.ChannelID, EventConnectionLost)
		}
		reconnecting = true
	}
}

// connect dials the endpoint and replays one subscribe frame per channel.
func (t *Transport) connect(ctx context.Context) (*websocket.Conn, error) {
	for _, info := range t.manager.Channels() {
		t.manager.Apply(info.ChannelID, EventConnect)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		logging.Warn("Realtime dial failed", map[string]interface{}{"url": t.url, "error": err.Error()})
		return nil, err
	}

	for _, info := range t.manager.Channels() {
		frame := subscribeFrame{Action: "subscribe", Topic: info.Topic, Table: info.Table, Filter: info.Filter}
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			return nil, err
		}
		t.manager.Apply(info.ChannelID, EventConnected)
	}

	logging.Info("Realtime transport connected", map[string]interface{}{
		"url":      t.url,
		"channels": len(t.manager.Channels()),
	})
	return conn, nil
}

// readLoop decodes messages and routes them to subscribed channels until the
// socket breaks or the transport stops.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-t.stopCh:
		case <-done:
			return
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn("Dropping malformed realtime frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		t.dispatch(&msg)
	}
}

// dispatch routes a message to every channel watching its table. Channels
// with no table act as wildcards. Duplicate fingerprints are dropped per
// channel.
func (t *Transport) dispatch(msg *Message) {
	for _, info := range t.manager.Channels() {
		if info.Table != "" && info.Table != msg.Table {
			continue
		}
		process, err := t.manager.ShouldProcessMessage(info.ChannelID, msg)
		if err != nil || !process {
			continue
		}
		if t.handler != nil {
			t.handler(info.ChannelID, msg)
		}
	}
}

// backoffRound records a failed attempt on every channel and waits out the
// backoff delay. Returns false when nothing is left to retry or the
// transport is stopping.
func (t *Transport) backoffRound(ctx context.Context) bool {
	attempt := 0
	for _, info := range t.manager.Channels() {
		res, err := t.manager.Apply(info.ChannelID, EventReconnectFailed)
		if err == nil && res.Attempts > attempt {
			attempt = res.Attempts
		}
	}

	eligible := t.manager.ChannelsNeedingReconnection()
	if len(eligible) == 0 {
		logging.Warn("No channels eligible for reconnection; realtime transport stopping", nil)
		return false
	}

	delay := retry.Delay(attempt, t.backoff)
	logging.Info("Realtime reconnect scheduled", map[string]interface{}{
		"attempt": attempt,
		"delay":   delay.String(),
	})

	select {
	case <-ctx.Done():
		return false
	case <-t.stopCh:
		return false
	case <-time.After(delay):
	}

	for _, info := range t.manager.ChannelsNeedingReconnection() {
		t.manager.Apply(info.ChannelID, EventBackoffComplete)
	}
	return true
}
