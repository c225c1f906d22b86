// Package timesource provides epoch seconds synchronised over NTP.
package timesource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

const (
	DefaultServer  = "pool.ntp.org"
	DefaultTimeout = 3 * time.Second
)

// LinkKeeper re-establishes the network link before a query.
type LinkKeeper interface {
	EnsureLink(ctx context.Context) error
}

// QueryFunc returns the local clock offset against server.
type QueryFunc func(ctx context.Context, server string) (time.Duration, error)

// NTP hands out epoch seconds. Each call refreshes the clock offset; when the
// pool cannot be reached the last offset keeps being applied, and before the
// first successful sync the epoch is 0.
type NTP struct {
	server string
	link   LinkKeeper
	query  QueryFunc
	cb     *gobreaker.CircuitBreaker
	log    *slog.Logger
	now    func() time.Time

	// OnFailure, if set, observes every failed refresh.
	OnFailure func(err error)

	mu       sync.Mutex
	synced   bool
	offset   time.Duration
	syncedAt time.Time
}

// New builds the time source. link may be nil.
func New(server string, link LinkKeeper, log *slog.Logger) *NTP {
	if server == "" {
		server = DefaultServer
	}
	t := &NTP{
		server: server,
		link:   link,
		query:  Query,
		log:    logging.Or(log).With("component", "ntp", "server", server),
		now:    time.Now,
	}
	t.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ntp",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Info("breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return t
}

// Query asks server once using beevik/ntp.
func Query(ctx context.Context, server string) (time.Duration, error) {
	timeout := DefaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Setup performs the first sync. Failure is logged, not returned.
func (t *NTP) Setup(ctx context.Context) {
	if epoch := t.CurrentEpoch(ctx); epoch == 0 {
		t.log.Warn("initial time sync failed, timestamps are 0 until the pool answers")
		return
	}
	t.log.Info("time synced", "offset", t.Offset())
}

// CurrentEpoch refreshes the offset and returns the current Unix time in
// whole seconds.
func (t *NTP) CurrentEpoch(ctx context.Context) uint64 {
	if t.link != nil {
		if err := t.link.EnsureLink(ctx); err != nil {
			t.log.Warn("network link unavailable", "err", err)
		}
	}
	res, err := t.cb.Execute(func() (interface{}, error) {
		return t.query(ctx, t.server)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if err == nil {
		t.offset = res.(time.Duration)
		t.syncedAt = now
		t.synced = true
	} else {
		err = fmt.Errorf("ntp: %w", err)
		t.log.Warn("time refresh failed", "err", err, "stale", t.synced)
		if t.OnFailure != nil {
			t.OnFailure(err)
		}
	}
	if !t.synced {
		return 0
	}
	// now - syncedAt is measured on the monotonic clock
	epoch := t.syncedAt.Add(t.offset).Add(now.Sub(t.syncedAt)).Unix()
	if epoch < 0 {
		return 0
	}
	return uint64(epoch)
}

// Offset returns the last measured clock offset.
func (t *NTP) Offset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Synced reports whether at least one query succeeded.
func (t *NTP) Synced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced
}
