package telephony

import "context"

// OriginateRequest describes an outbound leg to place. The AppArgs are
// handed back verbatim in the resulting StasisStart, which is how a new
// channel is correlated with the call record created before dialing.
type OriginateRequest struct {
	Endpoint  string
	App       string
	AppArgs   []string
	CallerID  string
	Variables map[string]string
}

// Client is the command surface of the telephony control plane. Every
// operation is an awaited network call; implementations must honor the
// context. Channel and bridge identifiers are opaque control-plane IDs.
type Client interface {
	// Answer picks up a channel that entered a stasis application.
	Answer(ctx context.Context, channelID string) error
	// Hangup tears a channel down. Hanging up an already-gone channel
	// is an error the caller is expected to tolerate.
	Hangup(ctx context.Context, channelID string) error
	// Originate places a new outbound leg and returns its channel ID.
	// The channel enters the named stasis app when answered.
	Originate(ctx context.Context, req OriginateRequest) (string, error)
	// SetChannelVar sets a channel variable visible to the dialplan.
	SetChannelVar(ctx context.Context, channelID, name, value string) error
	// ContinueInDialplan hands the channel off to the dialplan at the
	// given context/extension/priority, leaving the stasis app.
	ContinueInDialplan(ctx context.Context, channelID, dialplanCtx, extension string, priority int) error
	// CreateBridge creates a bridge of the given type ("mixing") and
	// returns its ID.
	CreateBridge(ctx context.Context, bridgeType string) (string, error)
	// AddChannel puts a channel into a bridge.
	AddChannel(ctx context.Context, bridgeID, channelID string) error
	// DestroyBridge removes a bridge. Destroying an already-destroyed
	// bridge is an error the caller treats as success.
	DestroyBridge(ctx context.Context, bridgeID string) error
}
