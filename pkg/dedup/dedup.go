// Package dedup drops MQTT redeliveries seen within a TTL.
package dedup

import (
	"strconv"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max), now: time.Now}
}

// Key identifies a telemetry message by topic, sequence and timestamp.
func Key(topic string, sequence int, timestamp uint64) string {
	return topic + "#" + strconv.Itoa(sequence) + "@" + strconv.FormatUint(timestamp, 10)
}

// ShouldProcess reports whether id was not seen within the TTL and marks it.
// Empty ids are always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

// evict drops expired entries; if none expired the oldest one goes.
func (d *Deduper) evict(now time.Time) {
	var oldest string
	var oldestExp time.Time
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
			continue
		}
		if oldest == "" || exp.Before(oldestExp) {
			oldest, oldestExp = k, exp
		}
	}
	if len(d.seen) > d.max && oldest != "" {
		delete(d.seen, oldest)
	}
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
