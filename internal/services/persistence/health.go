package persistence

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Probe collects the dependencies reported by /healthz and /readyz.
// A nil MQTT client means the broker is not configured.
type Probe struct {
	MQTT        mqtt.Client
	Archive     Archive
	Engine      interface{ Running() bool }
	MinErrorAge time.Duration
}

type healthStatus struct {
	Status          string  `json:"status"`
	EngineRunning   bool    `json:"engine_running"`
	MQTTConfigured  bool    `json:"mqtt_configured"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	ArchiveDurable  bool    `json:"archive_durable"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec"`
}

func (p Probe) check() (healthStatus, bool) {
	st := healthStatus{
		EngineRunning:  p.Engine != nil && p.Engine.Running(),
		MQTTConfigured: p.MQTT != nil,
		MQTTConnected:  p.MQTT != nil && p.MQTT.IsConnectionOpen(),
		ArchiveDurable: p.Archive != nil && p.Archive.Durable(),
	}
	writesOK := true
	if p.Archive != nil {
		age := p.Archive.LastErrorAge()
		st.LastWriteErrorS = age.Seconds()
		writesOK = age > p.MinErrorAge
	}
	mqttOK := !st.MQTTConfigured || st.MQTTConnected

	ready := st.EngineRunning && mqttOK && writesOK
	switch {
	case ready:
		st.Status = "ok"
	case st.EngineRunning:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st, ready
}

func NewHealthHandler(p Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		st, _ := p.check()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
}

// NewReadyHandler: 200 solo se tutte le dipendenze sono ok.
func NewReadyHandler(p Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, ready := p.check()
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool `json:"ready"`
		}{Ready: ready})
	})
}
