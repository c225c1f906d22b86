package node

import (
	"encoding/json"
	"net/http"
)

// ConnState reports whether the link and the broker session are up.
type ConnState interface {
	Connected() bool
}

// ClockState reports whether the time source has synced at least once.
type ClockState interface {
	Synced() bool
}

type healthHandler struct {
	conn    ConnState
	clock   ClockState
	batcher *Batcher
}

// NewHealthHandler serves /healthz: always 200, status ok/degraded.
func NewHealthHandler(conn ConnState, clock ClockState, b *Batcher) http.Handler {
	return &healthHandler{conn: conn, clock: clock, batcher: b}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
		TimeSync  bool   `json:"time_synced"`
		Phase     string `json:"phase"`
		Cursor    int    `json:"cursor"`
	}
	st := status{
		Connected: h.conn.Connected(),
		TimeSync:  h.clock.Synced(),
		Phase:     h.batcher.State().String(),
		Cursor:    h.batcher.Cursor(),
	}
	// senza NTP i timestamp valgono 0: il nodo pubblica comunque
	if st.Connected && st.TimeSync {
		st.Status = "ok"
	} else {
		st.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	conn ConnState
}

// NewReadyHandler serves /readyz: 200 only while connected.
func NewReadyHandler(conn ConnState) http.Handler {
	return &readyHandler{conn: conn}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.conn.Connected()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
