package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CyCoreSystems/ari/v6"
	"github.com/CyCoreSystems/ari/v6/client/native"
	"github.com/CyCoreSystems/ari/v6/rid"
)

// Options configures the ARI connection.
type Options struct {
	// URL is the ARI HTTP base, e.g. http://localhost:8088/ari.
	URL string
	// WebsocketURL is the events endpoint; derived from URL if empty.
	WebsocketURL string
	Username     string
	Password     string
	// Applications are the stasis app names to receive events for. ARI
	// accepts a comma-separated list on one websocket.
	Applications []string
}

// Connect returns a supervised Conn that dials Asterisk over ARI.
// Call Run to start it.
func Connect(opts Options, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *Conn {
	dial := func(ctx context.Context) (session, error) {
		return dialARI(ctx, opts, logger)
	}
	return newConn(dial, maxAttempts, baseDelay, logger)
}

// ariSession adapts an ari/v6 client to the session interface.
type ariSession struct {
	client ari.Client
	events chan Event
	cancel context.CancelFunc
}

func dialARI(ctx context.Context, opts Options, logger *slog.Logger) (session, error) {
	sessCtx, cancel := context.WithCancel(ctx)

	client, err := native.ConnectWithContext(sessCtx, &native.Options{
		Application:  strings.Join(opts.Applications, ","),
		URL:          opts.URL,
		WebsocketURL: opts.WebsocketURL,
		Username:     opts.Username,
		Password:     opts.Password,
		SubscribeAll: true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connecting to ari: %w", err)
	}

	s := &ariSession{
		client: client,
		events: make(chan Event, 64),
		cancel: cancel,
	}

	sub := client.Bus().Subscribe(nil,
		"StasisStart",
		"ChannelDestroyed",
		"ChannelStateChange",
		"BridgeCreated",
		"BridgeDestroyed",
	)

	go func() {
		defer close(s.events)
		defer sub.Cancel()
		for {
			select {
			case <-sessCtx.Done():
				return
			case raw, ok := <-sub.Events():
				if !ok {
					return
				}
				ev := translateEvent(raw)
				select {
				case s.events <- ev:
				case <-sessCtx.Done():
					return
				}
			}
		}
	}()

	logger.Debug("ari session established", "url", opts.URL, "apps", opts.Applications)
	return s, nil
}

// translateEvent maps an ari/v6 event onto the internal union.
func translateEvent(raw ari.Event) Event {
	switch e := raw.(type) {
	case *ari.StasisStart:
		return StasisStart{
			Application: e.Application,
			Args:        e.Args,
			Channel:     channelData(e.Channel),
		}
	case *ari.ChannelDestroyed:
		return ChannelDestroyed{
			Channel:   channelData(e.Channel),
			Cause:     e.Cause,
			CauseText: e.CauseTxt,
		}
	case *ari.ChannelStateChange:
		return ChannelStateChange{Channel: channelData(e.Channel)}
	case *ari.BridgeCreated:
		return BridgeCreated{Bridge: bridgeData(e.Bridge)}
	case *ari.BridgeDestroyed:
		return BridgeDestroyed{Bridge: bridgeData(e.Bridge)}
	default:
		payload, _ := json.Marshal(raw)
		return Unknown{Name: raw.GetType(), Raw: payload}
	}
}

func channelData(c ari.ChannelData) ChannelData {
	return ChannelData{
		ID:    c.ID,
		Name:  c.Name,
		State: c.State,
		Caller: CallerID{
			Name:   c.Caller.Name,
			Number: c.Caller.Number,
		},
	}
}

func bridgeData(b ari.BridgeData) BridgeData {
	return BridgeData{
		ID:         b.ID,
		Type:       b.Type,
		ChannelIDs: b.ChannelIDs,
	}
}

func (s *ariSession) Events() <-chan Event { return s.events }

func (s *ariSession) Close() {
	s.cancel()
}

func (s *ariSession) Info(ctx context.Context) (string, error) {
	info, err := s.client.Asterisk().Info(nil)
	if err != nil {
		return "", fmt.Errorf("querying asterisk info: %w", err)
	}
	return info.SystemInfo.Version, nil
}

func (s *ariSession) Answer(ctx context.Context, channelID string) error {
	if err := s.client.Channel().Answer(channelKey(channelID)); err != nil {
		return fmt.Errorf("answering channel %s: %w", channelID, err)
	}
	return nil
}

func (s *ariSession) Hangup(ctx context.Context, channelID string) error {
	if err := s.client.Channel().Hangup(channelKey(channelID), "normal"); err != nil {
		return fmt.Errorf("hanging up channel %s: %w", channelID, err)
	}
	return nil
}

func (s *ariSession) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	channelID := rid.New(rid.Channel)
	handle, err := s.client.Channel().Originate(nil, ari.OriginateRequest{
		Endpoint:  req.Endpoint,
		App:       req.App,
		AppArgs:   strings.Join(req.AppArgs, ","),
		CallerID:  req.CallerID,
		ChannelID: channelID,
		Variables: req.Variables,
		Timeout:   -1,
	})
	if err != nil {
		return "", fmt.Errorf("originating to %s: %w", req.Endpoint, err)
	}
	return handle.ID(), nil
}

func (s *ariSession) SetChannelVar(ctx context.Context, channelID, name, value string) error {
	if err := s.client.Channel().SetVariable(channelKey(channelID), name, value); err != nil {
		return fmt.Errorf("setting %s on channel %s: %w", name, channelID, err)
	}
	return nil
}

func (s *ariSession) ContinueInDialplan(ctx context.Context, channelID, dialplanCtx, extension string, priority int) error {
	if err := s.client.Channel().Continue(channelKey(channelID), dialplanCtx, extension, priority); err != nil {
		return fmt.Errorf("continuing channel %s in dialplan: %w", channelID, err)
	}
	return nil
}

func (s *ariSession) CreateBridge(ctx context.Context, bridgeType string) (string, error) {
	key := ari.NewKey(ari.BridgeKey, rid.New(rid.Bridge))
	handle, err := s.client.Bridge().Create(key, bridgeType, key.ID)
	if err != nil {
		return "", fmt.Errorf("creating %s bridge: %w", bridgeType, err)
	}
	return handle.ID(), nil
}

func (s *ariSession) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	if err := s.client.Bridge().AddChannel(bridgeKey(bridgeID), channelID); err != nil {
		return fmt.Errorf("adding channel %s to bridge %s: %w", channelID, bridgeID, err)
	}
	return nil
}

func (s *ariSession) DestroyBridge(ctx context.Context, bridgeID string) error {
	if err := s.client.Bridge().Delete(bridgeKey(bridgeID)); err != nil {
		return fmt.Errorf("destroying bridge %s: %w", bridgeID, err)
	}
	return nil
}

func channelKey(id string) *ari.Key { return ari.NewKey(ari.ChannelKey, id) }
func bridgeKey(id string) *ari.Key  { return ari.NewKey(ari.BridgeKey, id) }
