package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/command"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/topictranslate"
)

// brokerReconnectDelays is the Tier-3 backoff sequence for the local
// broker connection (spec §4.11, §7 BrokerLost): capped at its last
// entry for every attempt beyond its length.
var brokerReconnectDelays = []time.Duration{
	5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second,
}

func brokerReconnectDelay(attempt int) time.Duration {
	if attempt >= len(brokerReconnectDelays) {
		attempt = len(brokerReconnectDelays) - 1
	}
	return brokerReconnectDelays[attempt]
}

// runTimer invokes fn every interval until ctx is cancelled. Grounded
// on the teacher's ticker-driven maintenance loops (mainLoopNormalRegisters,
// heartbeatLoop), one goroutine per concern instead of a single
// select over several tickers.
func (b *Bridge) runTimer(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// publishInitialAvailability publishes a retained "online" marker for
// every discovered device, once, at startup (spec §4.11 step 6).
func (b *Bridge) publishInitialAvailability(ctx context.Context) {
	eng := b.getLocal()
	for _, cl := range b.clients {
		for _, d := range cl.Devices() {
			topic := topictranslate.LocalAvailabilityTopic(d.ID)
			if err := eng.PublishRetained(topic, []byte("online"), 1); err != nil {
				b.log.Warn("bridge: publishing availability for %s: %v", d.ID, err)
			}
		}
	}
}

// pollHoldingRegisters issues a holding-register read (FC 0x03) to
// every known device on every account (spec §4.11 step 7 / periodic
// poll).
func (b *Bridge) pollHoldingRegisters(ctx context.Context) {
	cmd := command.NewReadHoldingRegisters()
	for _, cl := range b.clients {
		for _, d := range cl.Devices() {
			topic := topictranslate.CloudCommandTopic(d.ID)
			if err := cl.Publish(topic, cmd.Encode(), 1); err != nil {
				b.log.Warn("bridge: polling holding registers for %s: %v", d.ID, err)
			}
		}
	}
}

// refreshDeviceLists re-discovers devices on every account (spec §6
// cache.device_refresh_interval).
func (b *Bridge) refreshDeviceLists(ctx context.Context) {
	for _, cl := range b.clients {
		if _, err := cl.RefreshDeviceList(ctx); err != nil {
			b.log.Warn("bridge: refreshing device list for %s: %v", cl.Email(), err)
		}
	}
}

// bridgeStatusDoc is the JSON document published to
// fossibot/bridge/status while running (spec §6).
type bridgeStatusDoc struct {
	Status        string          `json:"status"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Accounts      map[string]bool `json:"accounts"`
	Devices       struct {
		Total   int `json:"total"`
		Online  int `json:"online"`
		Offline int `json:"offline"`
	} `json:"devices"`
}

// publishBridgeStatus publishes the retained bridge status document
// (spec §4.11 step 7 / periodic status publish).
func (b *Bridge) publishBridgeStatus(ctx context.Context) {
	snap := b.snapshot()

	doc := bridgeStatusDoc{
		Status:        snap.Status,
		UptimeSeconds: snap.Uptime.Seconds(),
		Accounts:      make(map[string]bool, len(b.clients)),
	}
	for _, cl := range b.clients {
		doc.Accounts[cl.Email()] = cl.IsConnected()
	}
	doc.Devices.Total = snap.DevicesTotal
	doc.Devices.Online = snap.DevicesOnline
	doc.Devices.Offline = snap.DevicesOffline

	body, err := json.Marshal(doc)
	if err != nil {
		b.log.Warn("bridge: encoding status document: %v", err)
		return
	}
	if eng := b.getLocal(); eng != nil {
		if err := eng.PublishRetained(bridgeStatusTopic, body, 1); err != nil {
			b.log.Warn("bridge: publishing status document: %v", err)
		}
	}
}

// superviseLocalBroker reconnects to the local broker after an
// unexpected disconnect, using the Tier-3 backoff sequence 5, 10, 15,
// 30, 60 s (capped), never terminating the bridge (spec §4.11 broker
// reconnect, §7 BrokerLost).
func (b *Bridge) superviseLocalBroker(ctx context.Context) {
	for {
		eng := b.getLocal()
		if eng == nil {
			return
		}
		select {
		case _, ok := <-eng.Disconnected():
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		b.log.Warn("bridge: local broker connection lost, reconnecting")
		for attempt := 0; ; attempt++ {
			select {
			case <-time.After(brokerReconnectDelay(attempt)):
			case <-ctx.Done():
				return
			}

			if err := b.connectLocalBroker(ctx); err != nil {
				b.log.Warn("bridge: local broker reconnect attempt failed: %v", err)
				continue
			}
			if err := b.getLocal().Subscribe(ctx, "fossibot/+/command"); err != nil {
				b.log.Warn("bridge: resubscribing after broker reconnect: %v", err)
				continue
			}
			go b.consumeLocalCommands(ctx)
			b.publishInitialAvailability(ctx)
			b.publishBridgeStatus(ctx)
			b.log.Info("bridge: local broker reconnected")
			break
		}
	}
}
