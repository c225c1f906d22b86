package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

var (
	ErrNoReading    = errors.New("sensors: no reading received yet")
	ErrStaleReading = errors.New("sensors: reading is stale")
)

const (
	// DefaultMaxAge is how long a bridged value stays valid without updates.
	DefaultMaxAge = 30 * time.Second
	// idlePause follows a read that returned no data.
	idlePause = 50 * time.Millisecond
)

type sample struct {
	value float64
	at    time.Time
}

// Bridge reads "<key> <value>" lines streamed by a microcontroller on a
// serial port and keeps the latest value per key.
type Bridge struct {
	// MaxAge <= 0 keeps values valid forever.
	MaxAge time.Duration

	r      io.ReadCloser
	log    *slog.Logger
	policy retry.Policy
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]sample
}

// OpenSerialBridge opens the serial device at 8N1.
func OpenSerialBridge(name string, baud int, policy retry.Policy, log *slog.Logger) (*Bridge, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	return NewBridge(port, policy, log), nil
}

func NewBridge(r io.ReadCloser, policy retry.Policy, log *slog.Logger) *Bridge {
	return &Bridge{
		MaxAge: DefaultMaxAge,
		r:      r,
		log:    logging.Or(log).With("sensor", "serial"),
		policy: policy,
		now:    time.Now,
		latest: make(map[string]sample),
	}
}

// Run consumes lines until ctx is done or the port fails. A read that
// returns io.EOF is the port's read timeout expiring on a quiet line, not
// the end of the stream.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = b.r.Close()
	}()
	br := bufio.NewReader(b.r)
	var pending strings.Builder
	for {
		chunk, err := br.ReadString('\n')
		pending.WriteString(chunk)
		if err == nil {
			b.handleLine(pending.String())
			pending.Reset()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("serial: read: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(idlePause):
		}
	}
}

func (b *Bridge) handleLine(line string) {
	key, val, err := parseLine(line)
	if err != nil {
		b.log.Debug("skipping line", "line", strings.TrimSpace(line), "err", err)
		return
	}
	b.mu.Lock()
	b.latest[key] = sample{value: val, at: b.now()}
	b.mu.Unlock()
}

func parseLine(line string) (string, float64, error) {
	f := strings.Fields(line)
	if len(f) != 2 {
		return "", 0, fmt.Errorf("want 2 fields, got %d", len(f))
	}
	v, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return "", 0, err
	}
	return f[0], v, nil
}

// Value returns the latest value received for key. Values older than
// MaxAge are reported as ErrStaleReading.
func (b *Bridge) Value(key string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.latest[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoReading, key)
	}
	if age := b.now().Sub(s.at); b.MaxAge > 0 && age > b.MaxAge {
		return 0, fmt.Errorf("%w: %s last updated %s ago", ErrStaleReading, key, age.Truncate(time.Second))
	}
	return s.value, nil
}

// Setup waits for the first microphone value.
func (b *Bridge) Setup(ctx context.Context) error {
	return setupDevice(ctx, b.policy, b.log, "serial bridge", func() error {
		_, err := b.Value("mic")
		return err
	})
}

func (b *Bridge) ReadNoise() (int, error) {
	v, err := b.Value("mic")
	return int(v), err
}
