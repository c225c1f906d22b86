package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

const DefaultInactivity = 300 * time.Second

// Watchdog raises one alert when no message arrived for Threshold and logs
// the recovery when traffic resumes. It stays silent until the first message.
type Watchdog struct {
	Threshold time.Duration
	// OnChange is called with true and the idle time when the alert fires,
	// and with false and the length of the outage on recovery.
	OnChange func(inactive bool, idle time.Duration)

	mu       sync.Mutex
	last     time.Time
	silent   time.Time // last message before the outage
	alerting bool
	now      func() time.Time
	log      *slog.Logger
}

func NewWatchdog(threshold time.Duration, log *slog.Logger) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultInactivity
	}
	return &Watchdog{
		Threshold: threshold,
		now:       time.Now,
		log:       logging.Or(log).With("component", "watchdog"),
	}
}

// Touch records a received message.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.last = w.now()
	w.mu.Unlock()
}

// Check evaluates the inactivity once and reports whether the alert is active.
func (w *Watchdog) Check() bool {
	w.mu.Lock()
	if w.last.IsZero() {
		w.mu.Unlock()
		return false
	}
	idle := w.now().Sub(w.last)
	changed := false
	switch {
	case idle >= w.Threshold && !w.alerting:
		w.alerting, changed = true, true
		w.silent = w.last
		w.log.Error("no telemetry received", "inactive", idle.Truncate(time.Second), "threshold", w.Threshold)
	case idle < w.Threshold && w.alerting:
		w.alerting, changed = false, true
		idle = w.last.Sub(w.silent)
		w.log.Info("telemetry resumed", "inactive", idle.Truncate(time.Second))
	}
	alerting := w.alerting
	w.mu.Unlock()

	if changed && w.OnChange != nil {
		w.OnChange(alerting, idle)
	}
	return alerting
}

// Inactive reports the current alert state without re-evaluating it.
func (w *Watchdog) Inactive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alerting
}

// Run checks every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check()
		}
	}
}
