// Package mqttengine implements a minimal MQTT 3.1.1 client (spec
// §4.6) driven by an internal/transport.Transport. A single Engine
// type serves both the cloud session (over a WebSocket transport) and
// the local broker session (over a TCP transport).
package mqttengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/logging"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/transport"
)

// State is a position in the engine's connection state machine.
type State int

const (
	StateInit State = iota
	StateDialing
	StateSentConnect
	StateConnected
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateDialing:
		return "DIALING"
	case StateSentConnect:
		return "SENT_CONNECT"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// KeepAlive is the fixed keep-alive interval advertised in CONNECT and
// used to schedule PINGREQ.
const KeepAlive = 30 * time.Second

// ConnackRefusedAuth is the CONNACK return code meaning "not authorised".
const ConnackRefusedAuth byte = 5

// Config carries the per-connection parameters for Connect.
type Config struct {
	ClientID string
	Username string
	Password string

	// WillTopic/WillMessage/WillQoS/WillRetain describe an optional
	// last-will published by the broker on ungraceful disconnect.
	// WillTopic empty means no last-will is registered.
	WillTopic   string
	WillMessage string
	WillQoS     byte
	WillRetain  bool
}

// Message is an inbound PUBLISH delivered verbatim to listeners.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// ErrNotConnected is returned by Publish/Subscribe when the engine is
// not in StateConnected.
var ErrNotConnected = fmt.Errorf("mqttengine: not connected")

// Engine is a single MQTT session over one Transport.
type Engine struct {
	transport transport.Transport
	log       logging.ILogger

	mu           sync.Mutex
	state        State
	stream       transport.Stream
	recvBuf      []byte
	nextPacketID uint16
	pendingSubs  map[uint16]chan error
	lastActivity time.Time
	pingOutstand bool
	publishAckFn func(packetID uint16)

	messages     chan Message
	disconnected chan error
}

// New creates an Engine bound to tr. log may be nil, in which case
// the package-level default logger is used.
func New(tr transport.Transport, log logging.ILogger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		transport:    tr,
		log:          log,
		state:        StateInit,
		pendingSubs:  make(map[uint16]chan error),
		messages:     make(chan Message, 32),
		disconnected: make(chan error, 1),
		publishAckFn: func(uint16) {},
	}
}

// SetPublishAckHook installs a callback invoked after the engine has
// sent the wire PUBACK for an inbound QoS1 PUBLISH, for callers that
// want their own correlation bookkeeping. The PUBACK itself is always
// sent regardless of whether a hook is installed; this is purely an
// observability extension point.
func (e *Engine) SetPublishAckHook(fn func(packetID uint16)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		fn = func(uint16) {}
	}
	e.publishAckFn = fn
}

// Messages returns the channel of inbound PUBLISH deliveries.
func (e *Engine) Messages() <-chan Message { return e.messages }

// Disconnected fires exactly once when the engine leaves CONNECTED
// for any reason (transport error, framing error, graceful shutdown).
// A nil error means a graceful Disconnect().
func (e *Engine) Disconnected() <-chan error { return e.disconnected }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Connect dials the transport, sends CONNECT, and waits for CONNACK.
// On success the engine is CONNECTED and a background pump goroutine
// is running; on failure the engine is FAILED and the caller owns
// deciding whether to retry.
func (e *Engine) Connect(ctx context.Context, cfg Config) error {
	e.setState(StateDialing)
	stream, err := e.transport.Connect(ctx)
	if err != nil {
		e.setState(StateFailed)
		return bridgeerrors.NewNetworkTransient("mqttengine.Connect", "transport", err)
	}
	e.mu.Lock()
	e.stream = stream
	e.lastActivity = time.Now()
	e.mu.Unlock()

	var lw *will
	if cfg.WillTopic != "" {
		lw = &will{Topic: cfg.WillTopic, Message: cfg.WillMessage, QoS: cfg.WillQoS, Retain: cfg.WillRetain}
	}
	connectPkt := buildConnect(cfg.ClientID, cfg.Username, cfg.Password, uint16(KeepAlive/time.Second), lw)
	if err := stream.Write(connectPkt); err != nil {
		e.setState(StateFailed)
		return bridgeerrors.NewNetworkTransient("mqttengine.Connect", "transport", err)
	}
	e.setState(StateSentConnect)

	connackErr := make(chan error, 1)
	connackOK := make(chan struct{}, 1)
	go e.awaitConnack(ctx, connackOK, connackErr)

	select {
	case <-connackOK:
		e.setState(StateConnected)
		go e.pump()
		return nil
	case err := <-connackErr:
		e.setState(StateFailed)
		return err
	case <-ctx.Done():
		e.setState(StateFailed)
		return bridgeerrors.NewNetworkTransient("mqttengine.Connect", "transport", ctx.Err())
	}
}

// awaitConnack reads exactly until the first CONNACK (or a terminal
// condition) arrives, before the steady-state pump takes over.
func (e *Engine) awaitConnack(ctx context.Context, ok chan<- struct{}, errc chan<- error) {
	for {
		select {
		case chunk, open := <-e.stream.Data():
			if !open {
				errc <- bridgeerrors.NewNetworkTransient("mqttengine.Connect", "transport", fmt.Errorf("stream closed before CONNACK"))
				return
			}
			e.recvBuf = append(e.recvBuf, chunk...)
			pkt, consumed, found, err := extractPacket(e.recvBuf)
			if err != nil {
				errc <- err
				return
			}
			if !found {
				continue
			}
			e.recvBuf = e.recvBuf[consumed:]
			if pkt.Type != typeCONNACK {
				errc <- bridgeerrors.NewMalformedFrame("mqttengine.Connect", "expected CONNACK", nil)
				return
			}
			result, err := parseConnack(pkt.Body)
			if err != nil {
				errc <- err
				return
			}
			if result.ReturnCode != 0 {
				errc <- bridgeerrors.NewAuthFailed("mqttengine.Connect", "", "mqtt_connect",
					fmt.Errorf("CONNACK rc=%d", result.ReturnCode))
				return
			}
			ok <- struct{}{}
			return
		case err := <-e.stream.Err():
			errc <- bridgeerrors.NewNetworkTransient("mqttengine.Connect", "transport", err)
			return
		case <-e.stream.Closed():
			errc <- bridgeerrors.NewNetworkTransient("mqttengine.Connect", "transport", fmt.Errorf("stream closed before CONNACK"))
			return
		case <-ctx.Done():
			return
		}
	}
}

// pump is the steady-state read/keepalive loop, one goroutine per
// connected Engine.
func (e *Engine) pump() {
	ticker := time.NewTicker(KeepAlive / 2)
	defer ticker.Stop()

	for {
		select {
		case chunk, open := <-e.stream.Data():
			if !open {
				return
			}
			e.mu.Lock()
			e.recvBuf = append(e.recvBuf, chunk...)
			e.lastActivity = time.Now()
			e.pingOutstand = false
			buf := e.recvBuf
			e.mu.Unlock()

			for {
				pkt, consumed, found, err := extractPacket(buf)
				if err != nil {
					e.fail(err)
					return
				}
				if !found {
					break
				}
				buf = buf[consumed:]
				e.handlePacket(pkt)
			}
			e.mu.Lock()
			e.recvBuf = buf
			e.mu.Unlock()

		case err := <-e.stream.Err():
			e.fail(bridgeerrors.NewNetworkTransient("mqttengine.pump", "transport", err))
			return

		case <-e.stream.Closed():
			e.fail(nil)
			return

		case <-ticker.C:
			e.mu.Lock()
			idle := time.Since(e.lastActivity)
			outstanding := e.pingOutstand
			e.mu.Unlock()
			if outstanding && idle >= KeepAlive {
				e.fail(bridgeerrors.NewNetworkTransient("mqttengine.pump", "transport",
					fmt.Errorf("missing PINGRESP within keep-alive window")))
				return
			}
			if idle >= KeepAlive/2 {
				if err := e.stream.Write(buildPingReq()); err != nil {
					e.fail(bridgeerrors.NewNetworkTransient("mqttengine.pump", "transport", err))
					return
				}
				e.mu.Lock()
				e.pingOutstand = true
				e.mu.Unlock()
			}
		}
	}
}

func (e *Engine) handlePacket(pkt rawPacket) {
	switch pkt.Type {
	case typeCONNACK:
		// Unexpected second CONNACK; ignore per lenient handling of
		// already-connected sessions.
	case typePINGRESP:
		e.mu.Lock()
		e.pingOutstand = false
		e.mu.Unlock()
	case typeSUBACK:
		id, err := parseSubackPacketID(pkt.Body)
		if err != nil {
			e.log.Warn("mqttengine: malformed SUBACK: %v", err)
			return
		}
		e.mu.Lock()
		ch, found := e.pendingSubs[id]
		if found {
			delete(e.pendingSubs, id)
		}
		e.mu.Unlock()
		if !found {
			e.log.Warn("mqttengine: unmatched SUBACK for packet id %d", id)
			return
		}
		ch <- nil
	case typePUBLISH:
		msg, err := parsePublish(pkt.Flags, pkt.Body)
		if err != nil {
			e.log.Warn("mqttengine: malformed PUBLISH: %v", err)
			return
		}
		if msg.QoS == 1 {
			if err := e.stream.Write(buildPubAck(msg.PacketID)); err != nil {
				e.log.Warn("mqttengine: sending PUBACK for packet id %d: %v", msg.PacketID, err)
			}
			e.publishAckFn(msg.PacketID)
		}
		select {
		case e.messages <- Message{Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS}:
		default:
			e.log.Warn("mqttengine: message channel full, dropping PUBLISH on %s", msg.Topic)
		}
	case typePUBACK:
		// Outbound QoS1 PUBACK correlation is optional per spec §4.6;
		// acknowledged and ignored.
	case typeDISCONNECT:
		e.fail(nil)
	default:
		e.log.Warn("mqttengine: unexpected packet type %#x", pkt.Type)
	}
}

func (e *Engine) fail(err error) {
	e.setState(StateDisconnected)
	select {
	case e.disconnected <- err:
	default:
	}
}

func (e *Engine) nextID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextPacketID++
	if e.nextPacketID == 0 {
		e.nextPacketID = 1
	}
	return e.nextPacketID
}

// Subscribe sends SUBSCRIBE for the given topics at QoS 0 and waits
// for the matching SUBACK.
func (e *Engine) Subscribe(ctx context.Context, topics ...string) error {
	if e.State() != StateConnected {
		return ErrNotConnected
	}
	id := e.nextID()
	ch := make(chan error, 1)
	e.mu.Lock()
	e.pendingSubs[id] = ch
	stream := e.stream
	e.mu.Unlock()

	if err := stream.Write(buildSubscribe(id, topics)); err != nil {
		e.mu.Lock()
		delete(e.pendingSubs, id)
		e.mu.Unlock()
		return bridgeerrors.NewNetworkTransient("mqttengine.Subscribe", "transport", err)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends a non-retained PUBLISH at the given QoS (0 or 1). QoS
// 1 is used for outbound device commands; local broker traffic uses
// QoS 0 per spec §4.6.
func (e *Engine) Publish(topic string, payload []byte, qos byte) error {
	return e.publish(topic, payload, qos, false)
}

// PublishRetained sends a retained PUBLISH, for the topics spec §6
// marks retain=R (availability, bridge status, last-will).
func (e *Engine) PublishRetained(topic string, payload []byte, qos byte) error {
	return e.publish(topic, payload, qos, true)
}

func (e *Engine) publish(topic string, payload []byte, qos byte, retain bool) error {
	if e.State() != StateConnected {
		return ErrNotConnected
	}
	var id uint16
	if qos > 0 {
		id = e.nextID()
	}
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()
	if err := stream.Write(buildPublish(topic, payload, qos, id, retain)); err != nil {
		return bridgeerrors.NewNetworkTransient("mqttengine.Publish", "transport", err)
	}
	return nil
}

// Disconnect sends MQTT DISCONNECT and tears down the transport. Safe
// to call more than once.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()
	if stream == nil {
		return nil
	}
	_ = stream.Write(buildDisconnect())
	err := stream.Close()
	e.fail(nil)
	return err
}
