// Package health implements the embedded health HTTP server (spec
// §6, §4.11b): a chi.Router serving exactly GET /health, returning a
// JSON status document derived from a metrics.Snapshot. Grounded on
// the teacher's pkg/http/health_handler.go (ServeHTTP computing a
// status document on every request, 200 for healthy/degraded, 503 for
// unhealthy), generalised from a single http.Handler to a chi.Router
// so unmatched methods/paths get chi's default 405/404 instead of the
// teacher's hand-rolled root page.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/metrics"
)

// accounts/devices/mqtt/memory sub-documents mirror spec §6's nested
// health response shape exactly.
type accountsDoc struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
}

type devicesDoc struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

type mqttDoc struct {
	CloudClients int  `json:"cloud_clients"`
	LocalBroker  bool `json:"local_broker"`
}

type memoryDoc struct {
	UsageMB float64 `json:"usage_mb"`
	LimitMB float64 `json:"limit_mb"`
}

type responseDoc struct {
	Status  string      `json:"status"`
	Uptime  string      `json:"uptime"`
	Accounts accountsDoc `json:"accounts"`
	Devices  devicesDoc  `json:"devices"`
	MQTT     mqttDoc     `json:"mqtt"`
	Memory   memoryDoc   `json:"memory"`
}

// SnapshotFunc produces a fresh metrics.Snapshot on every request,
// matching spec §4.11b's "computed on demand, no background
// aggregation goroutine" requirement.
type SnapshotFunc func() metrics.Snapshot

// NewRouter builds the health server's chi.Router.
func NewRouter(snapshot SnapshotFunc) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		snap := snapshot()
		doc := responseDoc{
			Status: snap.Status,
			Uptime: snap.Uptime.Round(time.Second).String(),
			Accounts: accountsDoc{
				Total:        snap.AccountsTotal,
				Connected:    snap.AccountsConnected,
				Disconnected: snap.AccountsDisconnected,
			},
			Devices: devicesDoc{
				Total:   snap.DevicesTotal,
				Online:  snap.DevicesOnline,
				Offline: snap.DevicesOffline,
			},
			MQTT: mqttDoc{
				CloudClients: snap.CloudClientsConnected,
				LocalBroker:  snap.LocalBrokerConnected,
			},
			Memory: memoryDoc{
				UsageMB: snap.MemoryUsageMB,
				LimitMB: snap.MemoryLimitMB,
			},
		}

		status := http.StatusOK
		if snap.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(doc)
	})
	return r
}

// NewServer builds the health HTTP server bound to addr. The caller
// runs ListenAndServe in its own goroutine and calls Shutdown on the
// bridge's graceful-shutdown path.
func NewServer(addr string, snapshot SnapshotFunc) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(snapshot),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}
