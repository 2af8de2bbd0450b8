// Package cloudclient implements the per-account Cloud Client (spec
// §4.7): the three-stage auth pipeline, device discovery, the cloud
// MQTT session built on internal/mqttengine over a WebSocket
// transport, and the three-tier reconnect strategy. Grounded on the
// teacher's USRGateway (pkg/gateway/usr_dr164.go) connect/retry/
// mutex-guarded structuring, generalised from a single paho client to
// an owned mqttengine.Engine with tiered reconnect.
package cloudclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicecache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/logging"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/mqttengine"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/recovery"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/tokencache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/transport"
)

// mqttPassword is the constant password the vendor broker expects
// alongside the MQTT JWT as username (spec §4.7/§6).
const mqttPassword = "helloyou"

// Config carries the vendor endpoint coordinates and signing secret.
// Spec §6 lists no config-file key for any of these: the vendor cloud
// is opaque to the bridge operator, who supplies only per-account
// email/password. DefaultConfig below is the fixed value the Bridge
// wires into every account's Client; the fields stay parameterised so
// tests can point a Client at an httptest server instead.
type Config struct {
	AuthBaseURL     string
	ClientSecret    string
	SignatureHeader string
	MQTTHost        string
	MQTTPort        int
}

func (c Config) withDefaults() Config {
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Sign"
	}
	if c.MQTTPort == 0 {
		c.MQTTPort = 8083
	}
	return c
}

// Vendor endpoint coordinates (spec §4.7, §6): fixed protocol
// constants, not configuration. The auth base URL fronts the vendor's
// anonymous/login/mqtt-token functions; the client secret keys the
// HMAC-MD5 request signature (signing.go).
const (
	DefaultAuthBaseURL  = "https://api.next.bspapp.com/client"
	DefaultClientSecret = "D8F09E94n2r33a6Vlx6Qrx02YfL54i"
	DefaultMQTTHost     = "mqtt.sydpower.com"
)

// DefaultConfig returns the vendor endpoint coordinates every account
// connects to. The Bridge wires this unmodified into New for each
// configured account.
func DefaultConfig() Config {
	return Config{
		AuthBaseURL:  DefaultAuthBaseURL,
		ClientSecret: DefaultClientSecret,
		MQTTHost:     DefaultMQTTHost,
	}.withDefaults()
}

// Account is one configured vendor login (spec §6 accounts[]).
type Account struct {
	Email    string
	Password string
	Enabled  bool
}

// EventType distinguishes the event kinds spec §4.7 asks the Cloud
// Client to emit (connect/disconnect/reconnect/error). message events
// are delivered separately via Messages().
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventReconnect
	EventError
)

// Event is one lifecycle notification from the Cloud Client.
type Event struct {
	Type EventType
	Err  error
}

// Client is the per-account supervisor. One Client owns exactly one
// mqttengine.Engine at a time, bound to a fresh WebSocket transport on
// every (re)connect.
type Client struct {
	cfg         Config
	account     Account
	tokenCache  *tokencache.Cache
	deviceCache *devicecache.Cache
	breaker     *recovery.CircuitBreaker
	httpClient  *http.Client
	log         logging.ILogger
	clientID    string

	mu       sync.Mutex
	tok      tokens
	engine   *mqttengine.Engine
	devices  []devicecache.Device
	stopFwd  chan struct{}
	attempts int

	ctx    context.Context
	cancel context.CancelFunc

	messages chan mqttengine.Message
	events   chan Event
}

// New constructs a Client. The caller retains ownership of tokenCache
// and deviceCache, which are shared across every account's Client.
func New(cfg Config, account Account, tokenCache *tokencache.Cache, deviceCache *devicecache.Cache, log logging.ILogger) *Client {
	if log == nil {
		log = logging.Default()
	}
	id := uuid.NewMD5(uuid.NameSpaceDNS, []byte("fossibot-bridge:"+account.Email))
	return &Client{
		cfg:         cfg.withDefaults(),
		account:     account,
		tokenCache:  tokenCache,
		deviceCache: deviceCache,
		breaker:     recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second}),
		httpClient:  &http.Client{Timeout: HTTPTimeout},
		log:         log,
		clientID:    "fossibot_" + id.String(),
		messages:    make(chan mqttengine.Message, 64),
		events:      make(chan Event, 16),
	}
}

// Email identifies which configured account this Client serves.
func (c *Client) Email() string { return c.account.Email }

// Messages delivers every inbound cloud PUBLISH verbatim; no
// per-topic parsing happens at this layer (spec §4.7).
func (c *Client) Messages() <-chan mqttengine.Message { return c.messages }

// Events delivers connect/disconnect/reconnect/error notifications.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) emit(t EventType, err error) {
	select {
	case c.events <- Event{Type: t, Err: err}:
	default:
		c.log.Warn("cloudclient[%s]: event channel full, dropping %v", c.account.Email, t)
	}
}

// Connect runs the full startup sequence: authenticate, discover
// devices, open the MQTT session, subscribe, and start the reconnect
// supervisor. It blocks until the session is CONNECTED or a
// non-recoverable error occurs.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

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

	if err := c.openMQTT(ctx); err != nil {
		return err
	}

	go c.superviseReconnects()
	c.emit(EventConnect, nil)
	return nil
}

// openMQTT dials a fresh WebSocket transport and mqttengine.Engine,
// authenticates at the MQTT layer with the current token set, and
// subscribes to every known device's response topics.
func (c *Client) openMQTT(ctx context.Context) error {
	c.mu.Lock()
	if c.stopFwd != nil {
		close(c.stopFwd)
	}
	c.stopFwd = make(chan struct{})
	stopFwd := c.stopFwd
	devices := c.devices
	mqttToken := c.tok.mqtt
	oldEngine := c.engine
	c.mu.Unlock()

	if oldEngine != nil {
		oldEngine.Disconnect()
	}

	url := fmt.Sprintf("ws://%s:%d/mqtt", c.cfg.MQTTHost, c.cfg.MQTTPort)
	tr := transport.NewWebSocketTransport(url)
	eng := mqttengine.New(tr, c.log)

	if err := eng.Connect(ctx, mqttengine.Config{
		ClientID: c.clientID,
		Username: mqttToken,
		Password: mqttPassword,
	}); err != nil {
		return bridgeerrors.NewNetworkTransient("cloudclient.openMQTT", url, err)
	}

	topics := make([]string, 0, len(devices)*2)
	for _, d := range devices {
		topics = append(topics, d.ID+"/device/response/client/+", d.ID+"/device/response/state")
	}
	if len(topics) > 0 {
		if err := eng.Subscribe(ctx, topics...); err != nil {
			eng.Disconnect()
			return bridgeerrors.NewNetworkTransient("cloudclient.openMQTT", url, err)
		}
	}

	c.mu.Lock()
	c.engine = eng
	c.mu.Unlock()

	go c.forwardMessages(eng, stopFwd)
	return nil
}

func (c *Client) forwardMessages(eng *mqttengine.Engine, stop <-chan struct{}) {
	for {
		select {
		case msg, ok := <-eng.Messages():
			if !ok {
				return
			}
			select {
			case c.messages <- msg:
			default:
				c.log.Warn("cloudclient[%s]: message channel full, dropping %s", c.account.Email, msg.Topic)
			}
		case <-stop:
			return
		}
	}
}

// Publish sends a payload to the cloud MQTT session. Outbound device
// commands use QoS 1, everything else QoS 0 (spec §4.7).
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	if eng == nil {
		return mqttengine.ErrNotConnected
	}
	return eng.Publish(topic, payload, qos)
}

// RefreshDeviceList invalidates the device cache and re-discovers.
func (c *Client) RefreshDeviceList(ctx context.Context) ([]devicecache.Device, error) {
	if err := c.deviceCache.Invalidate(c.account.Email); err != nil {
		return nil, err
	}
	devices, err := c.refreshDeviceList(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()
	return devices, nil
}

// Devices returns the most recently discovered device list.
func (c *Client) Devices() []devicecache.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]devicecache.Device{}, c.devices...)
}

// IsConnected reports whether the current MQTT session is CONNECTED.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	return eng != nil && eng.State() == mqttengine.StateConnected
}

// Disconnect tears down the session and prevents further
// auto-reconnect (spec §4.7 shutdown).
func (c *Client) Disconnect() {
	c.mu.Lock()
	eng := c.engine
	if c.stopFwd != nil {
		close(c.stopFwd)
		c.stopFwd = nil
	}
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if eng != nil {
		eng.Disconnect()
	}
}
