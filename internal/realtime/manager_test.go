// Package realtime tests for the channel registry and health rollup.
package realtime

import (
	"testing"

	"github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/models"
)

func connectAll(m *ChannelManager, ids ...string) {
	for _, id := range ids {
		m.Apply(id, EventConnect)
		m.Apply(id, EventConnected)
	}
}

// TestRegisterAndApply verifies registration starts DISCONNECTED and events
// are routed to the right channel.
func TestRegisterAndApply(t *testing.T) {
	m := NewChannelManager(ManagerOptions{})

	info := m.Register("c1", "public:listings", "listings", "")
	if info.State != models.ChannelDisconnected {
		t.Errorf("expected disconnected on registration, got %s", info.State)
	}

	res, err := m.Apply("c1", EventConnect)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Next != models.ChannelConnecting || !res.Transitioned {
		t.Errorf("expected transition to connecting, got %+v", res)
	}

	if _, err := m.Apply("missing", EventConnect); !errors.Is(err, errors.ErrChannelNotFound) {
		t.Errorf("expected CHANNEL_NOT_FOUND, got %v", err)
	}
}

// TestShouldProcessMessageCountsOnce verifies dedup and message counters.
func TestShouldProcessMessageCountsOnce(t *testing.T) {
	m := NewChannelManager(ManagerOptions{})
	m.Register("c1", "public:listings", "listings", "")

	msg := &Message{Table: "listings", EventType: "INSERT", RecordID: "r1", Timestamp: 7}

	ok, err := m.ShouldProcessMessage("c1", msg)
	if err != nil || !ok {
		t.Fatalf("expected first delivery processed, got %v/%v", ok, err)
	}
	ok, _ = m.ShouldProcessMessage("c1", msg)
	if ok {
		t.Fatal("expected duplicate dropped")
	}

	info, _ := m.Channel("c1")
	if info.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", info.MessageCount)
	}
	if info.LastEventAt == 0 {
		t.Error("expected last event timestamp recorded")
	}
}

// TestShouldProcessMessageClosedChannel verifies messages arriving after a
// close are rejected instead of counted.
func TestShouldProcessMessageClosedChannel(t *testing.T) {
	m := NewChannelManager(ManagerOptions{})
	m.Register("c1", "public:listings", "listings", "")
	connectAll(m, "c1")
	m.Apply("c1", EventClose)

	msg := &Message{Table: "listings", EventType: "INSERT", RecordID: "r1", Timestamp: 7}
	ok, err := m.ShouldProcessMessage("c1", msg)
	if ok || !errors.Is(err, errors.ErrChannelClosed) {
		t.Fatalf("expected CHANNEL_CLOSED, got %v/%v", ok, err)
	}

	info, _ := m.Channel("c1")
	if info.MessageCount != 0 {
		t.Errorf("expected no messages counted on a closed channel, got %d", info.MessageCount)
	}
}

// TestChannelsNeedingReconnection verifies the drive loop input includes
// only eligible disconnected/reconnecting channels.
func TestChannelsNeedingReconnection(t *testing.T) {
	m := NewChannelManager(ManagerOptions{MaxReconnectAttempts: 2})

	m.Register("connected", "t", "", "")
	m.Register("dropped", "t", "", "")
	m.Register("exhausted", "t", "", "")

	connectAll(m, "connected")
	m.Apply("dropped", EventConnectionLost)
	m.Apply("exhausted", EventReconnect)
	m.Apply("exhausted", EventReconnect)

	got := m.ChannelsNeedingReconnection()
	if len(got) != 1 || got[0].ChannelID != "dropped" {
		ids := make([]string, len(got))
		for i, c := range got {
			ids[i] = c.ChannelID
		}
		t.Errorf("expected only dropped eligible, got %v", ids)
	}

	if m.ShouldRetryReconnection("exhausted") {
		t.Error("expected exhausted channel to be over budget")
	}
	if !m.ShouldRetryReconnection("dropped") {
		t.Error("expected dropped channel to be under budget")
	}
}

// TestHealthRollup verifies the four-way health rollup.
func TestHealthRollup(t *testing.T) {
	m := NewChannelManager(ManagerOptions{})

	if h := m.Health(); h != HealthUnknown {
		t.Errorf("expected unknown with no channels, got %s", h)
	}

	m.Register("c1", "t", "", "")
	m.Register("c2", "t", "", "")
	if h := m.Health(); h != HealthConnecting {
		t.Errorf("expected connecting, got %s", h)
	}

	connectAll(m, "c1", "c2")
	if h := m.Health(); h != HealthHealthy {
		t.Errorf("expected healthy, got %s", h)
	}

	// More channels reconnecting than connected degrades the rollup.
	m.Apply("c1", EventConnectionLost)
	m.Apply("c1", EventReconnect)
	m.Apply("c2", EventConnectionLost)
	m.Apply("c2", EventReconnect)
	if h := m.Health(); h != HealthDegraded {
		t.Errorf("expected degraded, got %s", h)
	}

	// Any failed channel degrades regardless of the rest.
	m2 := NewChannelManager(ManagerOptions{})
	m2.Register("ok", "t", "", "")
	m2.Register("bad", "t", "", "")
	connectAll(m2, "ok")
	m2.Apply("bad", EventMaxRetriesReached)
	if h := m2.Health(); h != HealthDegraded {
		t.Errorf("expected degraded with failed channel, got %s", h)
	}
}

// TestResetClearsRegistry verifies the global reset path.
func TestResetClearsRegistry(t *testing.T) {
	m := NewChannelManager(ManagerOptions{})
	m.Register("c1", "t", "", "")
	m.Register("c2", "t", "", "")

	m.Reset()

	if len(m.Channels()) != 0 {
		t.Errorf("expected empty registry, got %d channels", len(m.Channels()))
	}
	if h := m.Health(); h != HealthUnknown {
		t.Errorf("expected unknown after reset, got %s", h)
	}
}
