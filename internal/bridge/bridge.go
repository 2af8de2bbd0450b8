// Package bridge implements the Bridge Orchestrator (spec §4.11): the
// event-loop owner that wires the Cloud Clients, the local broker
// session, the device state store, and the periodic maintenance
// timers together, and drives startup and graceful shutdown.
// Grounded on the teacher's Application (main.go) — construction in a
// constructor, a blocking Start, and a Stop that tears everything
// down in reverse order — generalised from the teacher's single
// Modbus gateway + local broker pair to N cloud accounts, each with
// its own Cloud Client, sharing one token cache, one device cache,
// and one device state store.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloudclient"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/config"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicecache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicestate"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/health"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/logging"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/metrics"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/mqttengine"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/pidfile"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/tokencache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/topictranslate"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/transport"
)

// bridgeStatusTopic is the retained local-broker topic carrying the
// bridge's own status document, and the last-will payload target
// (spec §4.11, §6).
const bridgeStatusTopic = "fossibot/bridge/status"

// Bridge owns the running system for one daemon instance.
type Bridge struct {
	cfg  *config.Config
	log  logging.ILogger
	errs *bridgeerrors.Handler

	tokenCache  *tokencache.Cache
	deviceCache *devicecache.Cache
	state       *devicestate.Store
	throttle    *logging.Throttle

	pidFile   *pidfile.File
	healthSrv *http.Server

	clients []*cloudclient.Client

	localMu sync.RWMutex
	local   *mqttengine.Engine

	mu              sync.Mutex
	lastCommandSent map[string]time.Time

	startedAt time.Time
	cancel    context.CancelFunc
}

// New constructs a Bridge from an already-loaded, validated
// configuration: it acquires the PID file, opens the shared token and
// device caches, and builds one Cloud Client per enabled account.
// Spec §4.11 step 1 (load and validate the config) happens in the
// caller before this runs, so a config error never leaves a stray PID
// file or cache directory behind.
func New(cfg *config.Config, log logging.ILogger) (*Bridge, error) {
	const op = "bridge.New"
	if log == nil {
		log = logging.Default()
	}

	pf, err := pidfile.Acquire(cfg.Daemon.PIDFile)
	if err != nil {
		return nil, err
	}

	tc, err := tokencache.New(cfg.Cache.Directory, cfg.TokenTTLSafetyMargin())
	if err != nil {
		pf.Release()
		return nil, bridgeerrors.NewFatal(op, err)
	}
	dc, err := devicecache.New(cfg.Cache.Directory, cfg.DeviceListTTL())
	if err != nil {
		pf.Release()
		return nil, bridgeerrors.NewFatal(op, err)
	}

	b := &Bridge{
		cfg:             cfg,
		log:             log,
		errs:            bridgeerrors.NewHandler(log),
		tokenCache:      tc,
		deviceCache:     dc,
		state:           devicestate.NewStore(devicestate.WattRegisters{}),
		throttle:        logging.NewThrottle(5 * time.Second),
		pidFile:         pf,
		lastCommandSent: make(map[string]time.Time),
	}

	vendor := cloudclient.DefaultConfig()
	for _, acct := range cfg.Accounts {
		if !acct.IsEnabled() {
			continue
		}
		cl := cloudclient.New(vendor, cloudclient.Account{
			Email:    acct.Email,
			Password: acct.Password,
			Enabled:  true,
		}, tc, dc, log)
		b.clients = append(b.clients, cl)
	}
	if len(b.clients) == 0 {
		pf.Release()
		return nil, bridgeerrors.NewFatal(op, fmt.Errorf("no enabled accounts configured"))
	}

	return b, nil
}

// Run performs the startup sequence (spec §4.11 steps 2-10) and then
// blocks until ctx is cancelled. The caller is responsible for calling
// Stop afterwards to shut everything back down.
func (b *Bridge) Run(ctx context.Context) error {
	const op = "bridge.Run"
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.startedAt = time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, cl := range b.clients {
		cl := cl
		g.Go(func() error { return cl.Connect(gctx) })
	}
	if err := g.Wait(); err != nil {
		return bridgeerrors.NewFatal(op, fmt.Errorf("connecting cloud accounts: %w", err))
	}
	b.log.Info("bridge: %d cloud account(s) connected", len(b.clients))

	if err := b.connectLocalBroker(ctx); err != nil {
		return err
	}

	if err := b.getLocal().Subscribe(ctx, "fossibot/+/command"); err != nil {
		return bridgeerrors.NewFatal(op, fmt.Errorf("subscribing to local command topic: %w", err))
	}

	b.publishInitialAvailability(ctx)
	b.pollHoldingRegisters(ctx)

	go b.consumeCloudMessages(ctx)
	go b.consumeLocalCommands(ctx)
	go b.consumeCloudEvents(ctx)
	go b.superviseLocalBroker(ctx)

	go b.runTimer(ctx, time.Duration(b.cfg.Bridge.StatusPublishInterval)*time.Second, b.publishBridgeStatus)
	go b.runTimer(ctx, time.Duration(b.cfg.Bridge.DevicePollInterval)*time.Second, b.pollHoldingRegisters)
	go b.runTimer(ctx, 24*time.Hour, b.refreshDeviceLists)

	if b.cfg.Health.Enabled {
		addr := fmt.Sprintf(":%d", b.cfg.Health.Port)
		b.healthSrv = health.NewServer(addr, b.snapshot)
		go func() {
			if err := b.healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				b.log.Error("bridge: health server stopped: %v", err)
			}
		}()
		b.log.Info("bridge: health server listening on %s", addr)
	}

	<-ctx.Done()
	return nil
}

// connectLocalBroker dials the local Mosquitto broker over TCP and
// registers the offline last-will (spec §4.11 step 4).
func (b *Bridge) connectLocalBroker(ctx context.Context) error {
	const op = "bridge.connectLocalBroker"
	addr := fmt.Sprintf("%s:%d", b.cfg.Mosquitto.Host, b.cfg.Mosquitto.Port)
	eng := mqttengine.New(transport.NewTCPTransport(addr), b.log)
	err := eng.Connect(ctx, mqttengine.Config{
		ClientID:    b.cfg.Mosquitto.ClientID,
		Username:    b.cfg.Mosquitto.Username,
		Password:    b.cfg.Mosquitto.Password,
		WillTopic:   bridgeStatusTopic,
		WillMessage: "offline",
		WillQoS:     1,
		WillRetain:  true,
	})
	if err != nil {
		return bridgeerrors.NewFatal(op, fmt.Errorf("connecting to local broker %s: %w", addr, err))
	}
	b.localMu.Lock()
	b.local = eng
	b.localMu.Unlock()
	return nil
}

// getLocal returns the current local-broker engine, safe to call
// while superviseLocalBroker may be swapping it out after a reconnect.
func (b *Bridge) getLocal() *mqttengine.Engine {
	b.localMu.RLock()
	defer b.localMu.RUnlock()
	return b.local
}

// Stop runs the graceful shutdown sequence (spec §4.11 step 11): mark
// everything offline, disconnect every session, stop the health
// server, and release the PID file. Safe to call once after Run
// returns or is cancelled.
func (b *Bridge) Stop() {
	b.publishOffline()

	for _, cl := range b.clients {
		cl.Disconnect()
	}
	if eng := b.getLocal(); eng != nil {
		eng.Disconnect()
	}
	if b.healthSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.healthSrv.Shutdown(shutdownCtx)
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.pidFile != nil {
		if err := b.pidFile.Release(); err != nil {
			b.log.Warn("bridge: releasing PID file: %v", err)
		}
	}
}

// publishOffline marks the bridge and every known device offline,
// retained, ahead of disconnecting (spec §4.11 shutdown).
func (b *Bridge) publishOffline() {
	eng := b.getLocal()
	if eng == nil {
		return
	}
	if err := eng.PublishRetained(bridgeStatusTopic, []byte("offline"), 1); err != nil {
		b.log.Warn("bridge: publishing offline status: %v", err)
	}
	for _, mac := range b.state.MACs() {
		topic := topictranslate.LocalAvailabilityTopic(mac)
		if err := eng.PublishRetained(topic, []byte("offline"), 1); err != nil {
			b.log.Warn("bridge: publishing offline availability for %s: %v", mac, err)
		}
	}
}

// snapshot assembles a metrics.Snapshot from the Bridge's live state,
// for the health endpoint (spec §4.11b).
func (b *Bridge) snapshot() metrics.Snapshot {
	accounts := make([]metrics.AccountStatus, 0, len(b.clients))
	for _, cl := range b.clients {
		accounts = append(accounts, metrics.AccountStatus{Email: cl.Email(), Connected: cl.IsConnected()})
	}

	var devices []metrics.DeviceStatus
	for _, mac := range b.state.MACs() {
		st, ok := b.state.Get(mac)
		if !ok {
			continue
		}
		devices = append(devices, metrics.DeviceStatus{
			MAC:    mac,
			Online: time.Since(st.LastFullUpdate) < time.Duration(2*b.cfg.Bridge.DevicePollInterval)*time.Second,
		})
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return metrics.Compute(metrics.Inputs{
		StartedAt:     b.startedAt,
		Accounts:      accounts,
		Devices:       devices,
		LocalBrokerUp: func() bool {
			eng := b.getLocal()
			return eng != nil && eng.State() == mqttengine.StateConnected
		}(),
		MemoryUsageMB: float64(mem.Alloc) / (1024 * 1024),
		MemoryLimitMB: float64(mem.Sys) / (1024 * 1024),
	}, time.Now())
}

// ownerOf returns the Cloud Client that discovered mac, iterating
// every account's device list (spec §4.11 local command handler).
func (b *Bridge) ownerOf(mac string) *cloudclient.Client {
	for _, cl := range b.clients {
		for _, d := range cl.Devices() {
			if d.ID == mac {
				return cl
			}
		}
	}
	return nil
}
