package cloudclient

import (
	"context"
	"fmt"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
)

// reconnectDelays is the fixed Tier-3 backoff sequence (spec §4.7),
// capped at its last entry once exhausted.
var reconnectDelays = []time.Duration{
	5 * time.Second, 10 * time.Second, 15 * time.Second,
	30 * time.Second, 45 * time.Second, 60 * time.Second,
}

const maxReconnectAttempts = 10

func delayForAttempt(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(reconnectDelays) {
		idx = len(reconnectDelays) - 1
	}
	return reconnectDelays[idx]
}

// superviseReconnects watches the current engine's Disconnected()
// signal and drives the three-tier reconnect strategy. A disconnect
// mid-session triggers reconnect(forceReauth=false) on the next tick;
// while a reconnect is in flight further disconnects from the
// superseded engine are naturally coalesced since only one engine
// generation is live at a time.
func (c *Client) superviseReconnects() {
	for {
		c.mu.Lock()
		eng := c.engine
		c.mu.Unlock()
		if eng == nil {
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case err := <-eng.Disconnected():
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.emit(EventDisconnect, err)
			forceReauth := isAuthFailure(err)
			if rErr := c.reconnect(c.ctx, forceReauth); rErr != nil {
				c.emit(EventError, rErr)
				return
			}
			c.emit(EventReconnect, nil)
		}
	}
}

func isAuthFailure(err error) bool {
	_, ok := err.(*bridgeerrors.AuthFailed)
	return ok
}

// reconnect implements the tier cascade: warm reconnect unless the
// disconnect was an auth failure, then cold re-auth, then backoff
// retry. Returns a terminal error only once Tier 3 is exhausted.
func (c *Client) reconnect(ctx context.Context, forceReauth bool) error {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	if !forceReauth {
		if err := c.tier1Warm(ctx); err == nil {
			return nil
		}
	}
	if err := c.tier2ColdReauth(ctx); err == nil {
		return nil
	}
	return c.tier3Backoff(ctx)
}

// tier1Warm keeps the existing token set and simply reopens the
// transport and engine, re-subscribing from the cached device list.
// The precondition (both S2 and S3 unexpired) must hold; a token that
// expired at runtime fails the precondition and the caller escalates.
func (c *Client) tier1Warm(ctx context.Context) error {
	c.mu.Lock()
	valid := c.tok.valid(time.Now())
	c.mu.Unlock()
	if !valid {
		return fmt.Errorf("cloudclient: tier1 precondition failed, token set expired")
	}
	if err := c.openMQTT(ctx); err != nil {
		return err
	}
	return nil
}

// tier2ColdReauth clears in-memory tokens, invalidates the cached
// token set for this account, and re-runs the full three-stage
// pipeline before reopening MQTT. The device cache is left alone: an
// authorisation failure is not evidence the device list changed.
func (c *Client) tier2ColdReauth(ctx context.Context) error {
	c.mu.Lock()
	c.tok = tokens{}
	c.mu.Unlock()

	if err := c.tokenCache.Invalidate(c.account.Email); err != nil {
		c.log.Warn("cloudclient[%s]: invalidating token cache: %v", c.account.Email, err)
	}
	if err := c.authenticate(ctx); err != nil {
		return err
	}
	devices, err := c.discoverDevices(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()

	return c.openMQTT(ctx)
}

// tier3Backoff retries the cold re-authentication cycle on the
// 5,10,15,30,45,60s sequence, surfacing a terminal error after
// maxReconnectAttempts total attempts.
func (c *Client) tier3Backoff(ctx context.Context) error {
	for {
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if attempt > maxReconnectAttempts {
			return fmt.Errorf("cloudclient[%s]: reconnect abandoned after %d attempts", c.account.Email, maxReconnectAttempts)
		}

		delay := delayForAttempt(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := c.tier2ColdReauth(ctx); err == nil {
			return nil
		} else {
			c.log.Warn("cloudclient[%s]: tier3 attempt %d/%d failed: %v", c.account.Email, attempt, maxReconnectAttempts, err)
		}
	}
}
