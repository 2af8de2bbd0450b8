package bridge

import (
	"testing"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicestate"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/logging"
)

func TestBrokerReconnectDelaySequence(t *testing.T) {
	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second,
		60 * time.Second, 60 * time.Second,
	}
	for attempt, w := range want {
		if got := brokerReconnectDelay(attempt); got != w {
			t.Errorf("brokerReconnectDelay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func newTestBridge() *Bridge {
	return &Bridge{
		log:             logging.Default(),
		state:           devicestate.NewStore(devicestate.WattRegisters{}),
		throttle:        logging.NewThrottle(5 * time.Second),
		lastCommandSent: make(map[string]time.Time),
		startedAt:       time.Now(),
	}
}

func TestWasCommandTriggeredWithinWindow(t *testing.T) {
	b := newTestBridge()
	now := time.Now()
	b.recordCommandSent("AABBCCDDEEFF", now)

	if !b.wasCommandTriggered("AABBCCDDEEFF", now.Add(2*time.Second)) {
		t.Error("wasCommandTriggered() = false, want true within the 3s window")
	}
}

func TestWasCommandTriggeredOutsideWindow(t *testing.T) {
	b := newTestBridge()
	now := time.Now()
	b.recordCommandSent("AABBCCDDEEFF", now)

	if b.wasCommandTriggered("AABBCCDDEEFF", now.Add(4*time.Second)) {
		t.Error("wasCommandTriggered() = true, want false past the 3s window")
	}
}

func TestWasCommandTriggeredNeverSent(t *testing.T) {
	b := newTestBridge()
	if b.wasCommandTriggered("AABBCCDDEEFF", time.Now()) {
		t.Error("wasCommandTriggered() = true for a MAC that never received a command")
	}
}

func TestOwnerOfReturnsNilWithNoClients(t *testing.T) {
	b := newTestBridge()
	if owner := b.ownerOf("AABBCCDDEEFF"); owner != nil {
		t.Errorf("ownerOf() = %v, want nil", owner)
	}
}

func TestSnapshotUnhealthyWithoutLocalBroker(t *testing.T) {
	b := newTestBridge()
	snap := b.snapshot()
	if snap.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy (no local broker connected)", snap.Status)
	}
}
