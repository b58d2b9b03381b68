package stasis

import (
	"context"
	"fmt"
	"sync"

	"github.com/dialhub/dialhub/internal/telephony"
)

// fakeClient records every control-plane command and lets tests fail
// individual operations.
type fakeClient struct {
	mu sync.Mutex

	answered   []string
	hungup     []string
	vars       map[string]map[string]string
	continued  []continueReq
	originated []telephony.OriginateRequest
	bridged    map[string][]string
	destroyed  []string

	nextChannelID int
	nextBridgeID  int

	answerErr    error
	originateErr error
	bridgeErr    error
	addErr       error

	// onOriginate, when set, runs with the new channel ID before
	// Originate returns, outside the client lock.
	onOriginate func(channelID string)
}

type continueReq struct {
	channelID string
	context   string
	extension string
	priority  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		vars:    make(map[string]map[string]string),
		bridged: make(map[string][]string),
	}
}

func (c *fakeClient) Answer(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.answered = append(c.answered, channelID)
	return nil
}

func (c *fakeClient) Hangup(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hungup = append(c.hungup, channelID)
	return nil
}

func (c *fakeClient) Originate(_ context.Context, req telephony.OriginateRequest) (string, error) {
	c.mu.Lock()
	if c.originateErr != nil {
		c.mu.Unlock()
		return "", c.originateErr
	}
	c.originated = append(c.originated, req)
	c.nextChannelID++
	id := fmt.Sprintf("fake-channel-%d", c.nextChannelID)
	hook := c.onOriginate
	c.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return id, nil
}

func (c *fakeClient) SetChannelVar(_ context.Context, channelID, name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vars[channelID] == nil {
		c.vars[channelID] = make(map[string]string)
	}
	c.vars[channelID][name] = value
	return nil
}

func (c *fakeClient) ContinueInDialplan(_ context.Context, channelID, dialplanCtx, extension string, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.continued = append(c.continued, continueReq{channelID, dialplanCtx, extension, priority})
	return nil
}

func (c *fakeClient) CreateBridge(_ context.Context, bridgeType string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bridgeErr != nil {
		return "", c.bridgeErr
	}
	c.nextBridgeID++
	id := fmt.Sprintf("fake-bridge-%d", c.nextBridgeID)
	c.bridged[id] = nil
	return id, nil
}

func (c *fakeClient) AddChannel(_ context.Context, bridgeID, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return c.addErr
	}
	c.bridged[bridgeID] = append(c.bridged[bridgeID], channelID)
	return nil
}

func (c *fakeClient) DestroyBridge(_ context.Context, bridgeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = append(c.destroyed, bridgeID)
	return nil
}

func (c *fakeClient) hungupChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.hungup...)
}
