// Package metrics implements the Bridge's pull-based status snapshot
// (spec §4.11b): a single Snapshot struct computed on demand from live
// state, with no background aggregation goroutine. Grounded on the
// teacher's metrics.MetricsCollector duality (NullMetrics vs
// PrometheusMetrics, pkg/metrics/interfaces.go) simplified to one
// computation, since this system exposes no /metrics surface of its
// own — only the health endpoint consumes a Snapshot.
package metrics

import "time"

// AccountStatus summarises one configured account's connection state.
type AccountStatus struct {
	Email     string
	Connected bool
}

// DeviceStatus summarises one tracked device's last-seen state.
type DeviceStatus struct {
	MAC    string
	Online bool
}

// Inputs carries the live state the Bridge assembles a Snapshot from.
// Memory figures are read from runtime.MemStats by the caller so this
// package stays free of a runtime dependency beyond time.
type Inputs struct {
	StartedAt       time.Time
	Accounts        []AccountStatus
	Devices         []DeviceStatus
	LocalBrokerUp   bool
	MemoryUsageMB   float64
	MemoryLimitMB   float64
}

// Snapshot is the computed status document, shaped to match the
// health endpoint's JSON response (spec §6) and the
// fossibot/bridge/status payload (spec §4.11).
type Snapshot struct {
	Status string
	Uptime time.Duration

	AccountsTotal        int
	AccountsConnected    int
	AccountsDisconnected int

	DevicesTotal   int
	DevicesOnline  int
	DevicesOffline int

	CloudClientsConnected int
	LocalBrokerConnected  bool

	MemoryUsageMB float64
	MemoryLimitMB float64
}

// Compute derives a Snapshot from in. Status is "unhealthy" when the
// local broker is down or every account is disconnected, "degraded"
// when at least one configured account is disconnected, "healthy"
// otherwise.
func Compute(in Inputs, now time.Time) Snapshot {
	s := Snapshot{
		Uptime:               now.Sub(in.StartedAt),
		AccountsTotal:        len(in.Accounts),
		DevicesTotal:         len(in.Devices),
		LocalBrokerConnected: in.LocalBrokerUp,
		MemoryUsageMB:        in.MemoryUsageMB,
		MemoryLimitMB:        in.MemoryLimitMB,
	}

	for _, a := range in.Accounts {
		if a.Connected {
			s.AccountsConnected++
			s.CloudClientsConnected++
		} else {
			s.AccountsDisconnected++
		}
	}
	for _, d := range in.Devices {
		if d.Online {
			s.DevicesOnline++
		} else {
			s.DevicesOffline++
		}
	}

	switch {
	case !in.LocalBrokerUp || (s.AccountsTotal > 0 && s.AccountsConnected == 0):
		s.Status = "unhealthy"
	case s.AccountsDisconnected > 0:
		s.Status = "degraded"
	default:
		s.Status = "healthy"
	}

	return s
}
