package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloudclient"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/command"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/payload"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/topictranslate"
)

// commandWindow is how recently a command must have been sent to a
// MAC for an inbound frame to be tagged as elicited rather than
// spontaneous (glossary: "spontaneous update").
const commandWindow = 3 * time.Second

// consumeCloudMessages drains every Cloud Client's inbound PUBLISHes,
// decodes register frames, updates the Device State Store, and
// republishes JSON state to the local broker (spec §4.11 cloud
// message handler).
func (b *Bridge) consumeCloudMessages(ctx context.Context) {
	for _, cl := range b.clients {
		cl := cl
		go func() {
			for {
				select {
				case msg, ok := <-cl.Messages():
					if !ok {
						return
					}
					b.handleCloudMessage(msg.Topic, msg.Payload)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

func (b *Bridge) handleCloudMessage(topic string, raw []byte) {
	localTopic, mac, ok := topictranslate.ToLocalState(topic)
	if !ok {
		return
	}

	fr, err := payload.ParseFrame(raw)
	if err != nil {
		b.errs.Handle(err)
		return
	}

	triggered := b.wasCommandTriggered(mac, time.Now())
	st := b.state.UpdateFromFrame(mac, fr, topic, triggered)

	doc, err := payload.StateToJSON(st)
	if err != nil {
		b.errs.Handle(bridgeerrors.NewMalformedFrame("bridge.handleCloudMessage", "encoding state", err))
		return
	}
	eng := b.getLocal()
	if eng == nil {
		return
	}
	if err := eng.Publish(localTopic, []byte(doc), 0); err != nil {
		b.errs.Handle(bridgeerrors.NewBrokerLost("bridge.handleCloudMessage", err))
		return
	}

	if emit, suppressed := b.throttle.Allow(mac, time.Now()); emit {
		if suppressed > 0 {
			b.log.Info("device %s: state updated (%d further update(s) suppressed)", mac, suppressed)
		} else {
			b.log.Info("device %s: state updated", mac)
		}
	}
}

// consumeLocalCommands drains inbound local-broker PUBLISHes on
// fossibot/+/command, translates them into cloud register writes, and
// forwards them to the owning Cloud Client (spec §4.11 local command
// handler).
func (b *Bridge) consumeLocalCommands(ctx context.Context) {
	eng := b.getLocal()
	if eng == nil {
		return
	}
	for {
		select {
		case msg, ok := <-eng.Messages():
			if !ok {
				return
			}
			b.handleLocalCommand(msg.Topic, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleLocalCommand(topic string, raw []byte) {
	cloudTopic, mac, ok := topictranslate.ToCloudCommand(topic)
	if !ok {
		return
	}

	cmd, err := payload.JSONToCommand(raw)
	if err != nil {
		b.errs.Handle(err)
		return
	}

	owner := b.ownerOf(mac)
	if owner == nil {
		b.errs.Handle(bridgeerrors.NewInvalidCommand("bridge.handleLocalCommand", cmd.Action, fmt.Errorf("no account owns device %s", mac)))
		return
	}

	if err := owner.Publish(cloudTopic, payload.CommandToBytes(cmd), 1); err != nil {
		b.errs.Handle(bridgeerrors.NewNetworkTransient("bridge.handleLocalCommand", cloudTopic, err))
		return
	}

	b.recordCommandSent(mac, time.Now())

	if cmd.IsSettingsWrite() {
		go b.rereadAfterSettingsWrite(owner, mac)
	}
}

// rereadAfterSettingsWrite re-samples the holding registers 2 s after
// a settings write so the republished state reflects the new value
// rather than waiting for the next scheduled poll (spec §4.11).
func (b *Bridge) rereadAfterSettingsWrite(owner *cloudclient.Client, mac string) {
	time.Sleep(2 * time.Second)
	reread := command.NewReadHoldingRegisters()
	topic := topictranslate.CloudCommandTopic(mac)
	if err := owner.Publish(topic, reread.Encode(), 1); err != nil {
		b.log.Warn("bridge: re-read after settings write for %s: %v", mac, err)
		return
	}
	b.recordCommandSent(mac, time.Now())
}

func (b *Bridge) recordCommandSent(mac string, at time.Time) {
	b.mu.Lock()
	b.lastCommandSent[mac] = at
	b.mu.Unlock()
}

func (b *Bridge) wasCommandTriggered(mac string, now time.Time) bool {
	b.mu.Lock()
	sent, ok := b.lastCommandSent[mac]
	b.mu.Unlock()
	return ok && now.Sub(sent) <= commandWindow
}

// consumeCloudEvents logs connect/disconnect/reconnect/error
// notifications from every Cloud Client (spec §4.7 event surface).
func (b *Bridge) consumeCloudEvents(ctx context.Context) {
	for _, cl := range b.clients {
		cl := cl
		go func() {
			for {
				select {
				case ev, ok := <-cl.Events():
					if !ok {
						return
					}
					b.logCloudEvent(cl, ev)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

func (b *Bridge) logCloudEvent(cl *cloudclient.Client, ev cloudclient.Event) {
	switch ev.Type {
	case cloudclient.EventConnect:
		b.log.Info("account %s: connected", cl.Email())
	case cloudclient.EventDisconnect:
		b.log.Warn("account %s: disconnected", cl.Email())
	case cloudclient.EventReconnect:
		b.log.Info("account %s: reconnected", cl.Email())
	case cloudclient.EventError:
		b.errs.Handle(ev.Err)
	}
}
