package collector

import (
	"encoding/json"
	"net/http"
	"time"
)

// BrokerState reports whether the MQTT session is open.
type BrokerState interface {
	IsConnected() bool
}

type healthHandler struct {
	mqtt   BrokerState
	writer *Writer
	watch  *Watchdog
}

func NewHealthHandler(m BrokerState, w *Writer, watch *Watchdog) http.Handler {
	return &healthHandler{mqtt: m, writer: w, watch: watch}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		InfluxOK        bool    `json:"influx_ok"`
		Inactive        bool    `json:"inactive"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{
		MQTTConnected:   h.mqtt != nil && h.mqtt.IsConnected(),
		InfluxOK:        h.writer.Available(),
		Inactive:        h.watch != nil && h.watch.Inactive(),
		LastWriteErrorS: h.writer.LastErrorAge().Seconds(),
	}

	// ok se deps ok, nessun errore recente e messaggi in arrivo
	switch {
	case st.MQTTConnected && st.InfluxOK && !st.Inactive && h.writer.LastErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.MQTTConnected || st.InfluxOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only if every dependency is usable.
type readyHandler struct {
	mqtt     BrokerState
	writer   *Writer
	minError time.Duration
}

func NewReadyHandler(m BrokerState, w *Writer, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{mqtt: m, writer: w, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnected() && h.writer.Available() && h.writer.LastErrorAge() > h.minError
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
