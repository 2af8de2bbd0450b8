package metrics

import (
	"testing"
	"time"
)

func TestComputeHealthyWhenEverythingUp(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	now := started.Add(time.Hour)
	snap := Compute(Inputs{
		StartedAt:     started,
		Accounts:      []AccountStatus{{Email: "a@example.com", Connected: true}},
		Devices:       []DeviceStatus{{MAC: "AABBCCDDEEFF", Online: true}},
		LocalBrokerUp: true,
	}, now)

	if snap.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", snap.Status)
	}
	if snap.Uptime != time.Hour {
		t.Errorf("Uptime = %v, want 1h", snap.Uptime)
	}
	if snap.AccountsConnected != 1 || snap.AccountsDisconnected != 0 {
		t.Errorf("accounts connected/disconnected = %d/%d, want 1/0", snap.AccountsConnected, snap.AccountsDisconnected)
	}
}

func TestComputeDegradedWhenSomeAccountDisconnected(t *testing.T) {
	snap := Compute(Inputs{
		Accounts: []AccountStatus{
			{Email: "a@example.com", Connected: true},
			{Email: "b@example.com", Connected: false},
		},
		LocalBrokerUp: true,
	}, time.Now())

	if snap.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", snap.Status)
	}
}

func TestComputeUnhealthyWhenBrokerDown(t *testing.T) {
	snap := Compute(Inputs{
		Accounts:      []AccountStatus{{Email: "a@example.com", Connected: true}},
		LocalBrokerUp: false,
	}, time.Now())

	if snap.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", snap.Status)
	}
}

func TestComputeUnhealthyWhenAllAccountsDisconnected(t *testing.T) {
	snap := Compute(Inputs{
		Accounts: []AccountStatus{
			{Email: "a@example.com", Connected: false},
			{Email: "b@example.com", Connected: false},
		},
		LocalBrokerUp: true,
	}, time.Now())

	if snap.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", snap.Status)
	}
}

func TestComputeDeviceCounts(t *testing.T) {
	snap := Compute(Inputs{
		Devices: []DeviceStatus{
			{MAC: "A", Online: true},
			{MAC: "B", Online: false},
			{MAC: "C", Online: true},
		},
		LocalBrokerUp: true,
	}, time.Now())

	if snap.DevicesTotal != 3 || snap.DevicesOnline != 2 || snap.DevicesOffline != 1 {
		t.Errorf("device counts = total=%d online=%d offline=%d, want 3/2/1",
			snap.DevicesTotal, snap.DevicesOnline, snap.DevicesOffline)
	}
}
