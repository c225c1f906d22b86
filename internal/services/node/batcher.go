package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/roomsense/internal/sensors"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

// Window is a fixed-capacity ordered buffer with a write cursor.
type Window[T any] struct {
	buf    []T
	cursor int
}

func NewWindow[T any](capacity int) Window[T] {
	return Window[T]{buf: make([]T, capacity)}
}

// Append stores v at the cursor. It refuses and returns false when full.
func (w *Window[T]) Append(v T) bool {
	if w.cursor >= len(w.buf) {
		return false
	}
	w.buf[w.cursor] = v
	w.cursor++
	return true
}

// Values returns the filled part of the window. The slice is only valid
// until the next Append or Reset.
func (w *Window[T]) Values() []T { return w.buf[:w.cursor] }

func (w *Window[T]) Len() int   { return w.cursor }
func (w *Window[T]) Cap() int   { return len(w.buf) }
func (w *Window[T]) Full() bool { return w.cursor >= len(w.buf) }

// Reset clears the window without reallocating.
func (w *Window[T]) Reset() {
	clear(w.buf)
	w.cursor = 0
}

// BatchState is the scheduler-owned accumulation state.
type BatchState struct {
	Noise    Window[int]
	Voc      Window[int]
	Sequence int
}

func NewBatchState(noiseCap, vocCap int) *BatchState {
	return &BatchState{Noise: NewWindow[int](noiseCap), Voc: NewWindow[int](vocCap)}
}

type Phase int32

const (
	Accumulating Phase = iota
	Publishing
)

func (p Phase) String() string {
	switch p {
	case Accumulating:
		return "ACCUMULATING"
	case Publishing:
		return "PUBLISHING"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// EpochSource returns Unix seconds. timesource.NTP implements it.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) uint64
}

type BatcherConfig struct {
	Interval    time.Duration
	WindowSize  int
	VocEvery    int
	VocCapacity int
}

const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = 2000 * time.Millisecond
)

func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{Interval: time.Second, WindowSize: 30, VocEvery: 5, VocCapacity: 7}
}

func (c BatcherConfig) Validate() error {
	switch {
	case c.Interval < MinInterval || c.Interval > MaxInterval:
		return fmt.Errorf("sample interval %s outside %s..%s", c.Interval, MinInterval, MaxInterval)
	case c.WindowSize <= 0:
		return errors.New("window size must be positive")
	case c.VocEvery <= 0:
		return errors.New("voc period must be positive")
	case c.VocCapacity < c.WindowSize/c.VocEvery:
		return fmt.Errorf("voc capacity %d cannot hold %d samples", c.VocCapacity, c.WindowSize/c.VocEvery)
	}
	return nil
}

// Batcher is the scheduler loop: one noise sample per tick, one VOC sample
// every VocEvery ticks, and a publish of every metric when the noise window
// fills.
type Batcher struct {
	cfg       BatcherConfig
	sources   sensors.Set
	publisher TelemetryPublisher
	clock     EpochSource
	state     *BatchState
	phase     atomic.Int32
	cursor    atomic.Int32
	metrics   *Metrics
	log       *slog.Logger
}

func NewBatcher(cfg BatcherConfig, sources sensors.Set, pub TelemetryPublisher, clock EpochSource, metrics *Metrics, log *slog.Logger) (*Batcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Batcher{
		cfg:       cfg,
		sources:   sources,
		publisher: pub,
		clock:     clock,
		state:     NewBatchState(cfg.WindowSize, cfg.VocCapacity),
		metrics:   metrics,
		log:       logging.Or(log).With("component", "batcher"),
	}, nil
}

// State returns the current phase.
func (b *Batcher) State() Phase { return Phase(b.phase.Load()) }

// Cursor returns the number of noise samples in the current window.
func (b *Batcher) Cursor() int { return int(b.cursor.Load()) }

// Sequence returns the sequence number of the next publish. Not safe to call
// while Run is active.
func (b *Batcher) Sequence() int {
	return b.state.Sequence
}

// Run ticks at the configured interval until ctx is cancelled.
func (b *Batcher) Run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.Interval)
	defer t.Stop()
	b.log.Info("sampling", "interval", b.cfg.Interval, "window", b.cfg.WindowSize, "voc_every", b.cfg.VocEvery)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			b.Tick(ctx)
		}
	}
}

// Tick performs one scheduler step.
func (b *Batcher) Tick(ctx context.Context) {
	st := b.state
	if !st.Noise.Append(b.readNoise()) {
		b.log.Warn("noise window full, sample dropped")
	}
	if st.Noise.Len()%b.cfg.VocEvery == 0 {
		temp := b.readTemperature()
		rh := b.sources.Humidity.ReadHumidity()
		if !st.Voc.Append(b.readVoc(temp, rh)) {
			b.log.Warn("voc window full, sample dropped")
		}
	}
	b.cursor.Store(int32(st.Noise.Len()))
	b.metrics.setCursor(st.Noise.Len())

	if st.Noise.Len() >= b.cfg.WindowSize {
		b.publish(ctx)
	}
}

func (b *Batcher) publish(ctx context.Context) {
	b.phase.Store(int32(Publishing))
	defer b.phase.Store(int32(Accumulating))

	st := b.state
	ts := b.clock.CurrentEpoch(ctx)
	temp := b.readTemperature()
	rh := b.sources.Humidity.ReadHumidity()
	seq := st.Sequence

	// failures are already logged and counted by the publisher chain
	_ = b.publisher.PublishNoise(ctx, ts, st.Noise.Values(), seq)
	_ = b.publisher.PublishVoc(ctx, ts, st.Voc.Values(), seq)
	_ = b.publisher.PublishHumidity(ctx, ts, rh, seq)
	_ = b.publisher.PublishTemperature(ctx, ts, temp, seq)

	st.Noise.Reset()
	st.Voc.Reset()
	st.Sequence++
	b.cursor.Store(0)
	b.metrics.setCursor(0)
	b.metrics.setSequence(st.Sequence)
	b.log.Debug("batch published", "sequence", seq, "timestamp", ts)
}

// Read failures are substituted with 0.

func (b *Batcher) readNoise() int {
	v, err := b.sources.Noise.ReadNoise()
	if err != nil {
		b.readFailed("noise", err)
		return 0
	}
	return v
}

func (b *Batcher) readTemperature() float64 {
	v, err := b.sources.Temperature.ReadTemperature()
	c := sensors.SanitizeTemperature(b.log.With("sensor", "temperature"), v, err)
	if err != nil || c != v {
		b.metrics.sensorFailed("temperature")
	}
	return c
}

func (b *Batcher) readVoc(temp, rh float64) int {
	v, err := b.sources.Voc.ReadVoc(temp, rh)
	if err != nil {
		b.readFailed("voc", err)
		return 0
	}
	return v
}

func (b *Batcher) readFailed(sensor string, err error) {
	b.log.Warn("sensor read failed, using 0", "sensor", sensor, "err", err)
	b.metrics.sensorFailed(sensor)
}
