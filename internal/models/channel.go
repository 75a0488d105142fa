// Package models provides data model definitions for the PlateShare sync core.
package models

import "time"

// ChannelState is the connection lifecycle state of a realtime channel.
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelReconnecting ChannelState = "reconnecting"
	ChannelBackingOff   ChannelState = "backing_off"
	ChannelFailed       ChannelState = "failed"
	ChannelClosed       ChannelState = "closed"
)

// ChannelInfo describes a registered realtime subscription and its state.
type ChannelInfo struct {
	ChannelID         string       `db:"channel_id" json:"channel_id"`
	Topic             string       `db:"topic" json:"topic"`
	Table             string       `db:"table_name" json:"table,omitempty"`
	Filter            string       `db:"filter" json:"filter,omitempty"`
	State             ChannelState `db:"state" json:"state"`
	MessageCount      int          `db:"message_count" json:"message_count"`
	ErrorCount        int          `db:"error_count" json:"error_count"`
	ReconnectAttempts int          `db:"reconnect_attempts" json:"reconnect_attempts"`
	CreatedAt         int64        `db:"created_at" json:"created_at"`
	LastEventAt       int64        `db:"last_event_at" json:"last_event_at,omitempty"`
}

// CreatedAtTime returns CreatedAt as time.Time.
func (c *ChannelInfo) CreatedAtTime() time.Time {
	return time.Unix(c.CreatedAt, 0)
}
