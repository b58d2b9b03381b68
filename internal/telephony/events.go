// Package telephony is the boundary to the Asterisk control plane. It
// exposes the command surface orchestrators use to drive channels and
// bridges, and translates the ARI event stream into a typed event union
// so the rest of the system never handles raw JSON payloads.
package telephony

import "encoding/json"

// ChannelData describes a telephony channel (one leg of a call) as
// reported by the control plane.
type ChannelData struct {
	ID     string
	Name   string
	State  string
	Caller CallerID
}

// CallerID is the caller identity on a channel.
type CallerID struct {
	Name   string
	Number string
}

// BridgeData describes a mixing bridge and its member channels.
type BridgeData struct {
	ID         string
	Type       string
	ChannelIDs []string
}

// Event is one control-plane event. The concrete type identifies the
// event; Unknown carries anything outside the modeled set so new
// Asterisk event types pass through instead of failing.
type Event interface {
	// Type returns the control-plane event type name.
	Type() string
}

// StasisStart is emitted when a channel enters a stasis application.
// Application is the routing key between the AI and manual flows; Args
// carry the call correlation identifiers set at originate time.
type StasisStart struct {
	Application string
	Args        []string
	Channel     ChannelData
}

func (StasisStart) Type() string { return "StasisStart" }

// ChannelDestroyed is emitted when a channel is torn down. It is the
// single required cleanup trigger for all per-channel state.
type ChannelDestroyed struct {
	Channel   ChannelData
	Cause     int
	CauseText string
}

func (ChannelDestroyed) Type() string { return "ChannelDestroyed" }

// ChannelStateChange is emitted when a channel moves between states
// (ringing, up, ...).
type ChannelStateChange struct {
	Channel ChannelData
}

func (ChannelStateChange) Type() string { return "ChannelStateChange" }

// BridgeCreated is emitted when a mixing bridge comes into existence.
type BridgeCreated struct {
	Bridge BridgeData
}

func (BridgeCreated) Type() string { return "BridgeCreated" }

// BridgeDestroyed is emitted when a bridge is gone, whether we
// destroyed it or the far side did.
type BridgeDestroyed struct {
	Bridge BridgeData
}

func (BridgeDestroyed) Type() string { return "BridgeDestroyed" }

// Unknown wraps an event type this subsystem does not model. It is
// passed through, not treated as an error.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (u Unknown) Type() string { return u.Name }
