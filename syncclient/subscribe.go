package syncclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brendan612/latchkey/wire"
)

// StreamState is the lifecycle state of an event subscription.
type StreamState string

const (
	StateConnecting StreamState = "connecting"
	StateOpen       StreamState = "open"
	StateClosed     StreamState = "closed"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
)

// Subscription is a live vault-updated event stream. Events are advisory:
// on receipt the caller re-pulls; a dropped event only delays the next
// pull, it never loses data.
type Subscription struct {
	events chan wire.VaultUpdatedEvent
	states chan StreamState
	cancel context.CancelFunc
	done   chan struct{}
}

// Events delivers vault-updated notifications. The channel closes when the
// subscription ends.
func (s *Subscription) Events() <-chan wire.VaultUpdatedEvent {
	return s.events
}

// States reports connection state transitions. Sends never block; a state
// the caller has not drained yet is dropped in favor of the newer one.
func (s *Subscription) States() <-chan StreamState {
	return s.states
}

// Close ends the subscription and waits for its goroutine to finish.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe opens a resilient event stream for one vault. The stream
// reconnects with bounded exponential backoff, minting a fresh stream
// token for each attempt since stream tokens are short-lived.
func (c *Client) Subscribe(ctx context.Context, vaultID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan wire.VaultUpdatedEvent, 16),
		states: make(chan StreamState, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.runStream(ctx, vaultID, sub)
	return sub
}

func (c *Client) runStream(ctx context.Context, vaultID string, sub *Subscription) {
	defer close(sub.done)
	defer close(sub.events)
	defer sub.setState(StateClosed)

	backoff := backoffInitial
	for {
		sub.setState(StateConnecting)

		err := c.streamOnce(ctx, vaultID, sub, func() { backoff = backoffInitial })
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("event stream disconnected",
				slog.String("vault", vaultID),
				slog.Duration("retry_in", backoff),
				slog.Any("error", err),
			)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// streamOnce runs one connection attempt: mint a stream token, connect,
// and consume events until the stream breaks. onOpen fires after the
// server's ready event.
func (c *Client) streamOnce(ctx context.Context, vaultID string, sub *Subscription, onOpen func()) error {
	var tokenResp wire.StreamTokenResponse
	if err := c.postJSON(ctx, "/v1/events/token", nil, wire.StreamTokenRequest{VaultID: vaultID}, &tokenResp); err != nil {
		return fmt.Errorf("minting stream token: %w", err)
	}

	url := c.baseURL + "/v1/vaults/" + vaultID + "/events?token=" + tokenResp.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream client must not enforce a response deadline; the
	// connection is long-lived.
	hc := &http.Client{Transport: c.httpClient.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventName, eventData string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			c.dispatchEvent(ctx, sub, eventName, eventData, onOpen)
			eventName, eventData = "", ""
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			eventData = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment; nothing to do.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream ended")
}

func (c *Client) dispatchEvent(ctx context.Context, sub *Subscription, name, data string, onOpen func()) {
	switch name {
	case "ready":
		sub.setState(StateOpen)
		onOpen()
	case "vault-updated":
		var event wire.VaultUpdatedEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Warn("discarding malformed stream event", slog.Any("error", err))
			return
		}
		select {
		case sub.events <- event:
		case <-ctx.Done():
		}
	}
}

func (s *Subscription) setState(state StreamState) {
	for {
		select {
		case s.states <- state:
			return
		default:
			// Drop the stale undrained state.
			select {
			case <-s.states:
			default:
			}
		}
	}
}
