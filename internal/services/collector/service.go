package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/roomsense/pkg/broker"
	"github.com/LeonardoBeccarini/roomsense/pkg/dedup"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type Config struct {
	Broker    broker.Config
	BaseTopic string
	Influx    InfluxConfig

	Inactivity   time.Duration
	DedupTTL     time.Duration
	DedupMax     int
	ConnectRetry retry.Policy

	// AlertTopic is the prefix alerts are published under; empty only logs them.
	AlertTopic    string
	AlertCooldown time.Duration
	// Ranges classify /telemetry/latest readings; nil uses DefaultRanges.
	Ranges Ranges

	HTTPPort       int
	ReadinessGrace time.Duration
}

// Service wires the MQTT subscription, the collector and the Influx writer.
type Service struct {
	cfg       Config
	conn      *broker.Conn
	consumer  *broker.MultiConsumer
	writer    *Writer
	querier   Querier
	collector *Collector
	watchdog  *Watchdog
	registry  *prometheus.Registry
	closeDB   func()
	log       *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Service, error) {
	in := cfg.Influx
	if in.URL == "" || in.Token == "" || in.Org == "" || in.Bucket == "" {
		return nil, errors.New("collector: influx config incomplete")
	}
	client := influxdb2.NewClient(in.URL, in.Token)
	q := NewInfluxQuerier(client.QueryAPI(in.Org), in.Bucket)
	return newService(cfg, client.WriteAPIBlocking(in.Org, in.Bucket), q, client.Close, log)
}

func newService(cfg Config, pw PointWriter, q Querier, closeDB func(), log *slog.Logger) (*Service, error) {
	if cfg.BaseTopic == "" {
		return nil, errors.New("collector: base topic is empty")
	}
	log = logging.Or(log).With("component", "collector-svc")

	// QoS 1 con sessione persistente: paho si riconnette da solo
	cfg.Broker.QoS = 1
	cfg.Broker.AutoReconnect = true
	if cfg.ConnectRetry.Delay <= 0 {
		cfg.ConnectRetry = retry.Forever(time.Second)
	}
	cfg.ConnectRetry.Logger = log
	if cfg.ReadinessGrace <= 0 {
		cfg.ReadinessGrace = 2 * time.Second
	}
	if cfg.Ranges == nil {
		cfg.Ranges = DefaultRanges()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(reg)

	conn := broker.NewConn(cfg.Broker, log)

	var sink AlertSink
	if cfg.AlertTopic != "" {
		sink = NewMQTTAlertSink(conn, cfg.AlertTopic)
	}
	alerts := NewNotifier(sink, cfg.AlertCooldown, metrics, log)

	watch := NewWatchdog(cfg.Inactivity, log)
	watch.OnChange = func(inactive bool, idle time.Duration) {
		metrics.SetInactive(inactive)
		if inactive {
			alerts.Inactivity(context.Background(), idle)
		} else {
			alerts.Recovery(context.Background(), idle)
		}
	}

	writer := NewWriter(pw, log)
	coll := NewCollector(writer, dedup.New(cfg.DedupTTL, cfg.DedupMax), watch, metrics, log)
	coll.SetNotifier(alerts)

	consumer := broker.NewMultiConsumer(conn, Topics(cfg.BaseTopic), cfg.Broker.QoS, nil)

	return &Service{
		cfg:       cfg,
		conn:      conn,
		consumer:  consumer,
		writer:    writer,
		querier:   q,
		collector: coll,
		watchdog:  watch,
		registry:  reg,
		closeDB:   closeDB,
		log:       log,
	}, nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", NewHealthHandler(s.conn, s.writer, s.watchdog))
	mux.Handle("/readyz", NewReadyHandler(s.conn, s.writer, s.cfg.ReadinessGrace))
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.Handle("/telemetry/latest", NewLatestHandler(s.querier, s.collector, s.cfg.Ranges))
	return mux
}

// Run connects, subscribes and stores telemetry until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.closeDB != nil {
		defer s.closeDB()
	}
	s.consumer.SetHandler(s.collector.Handler(ctx))

	var up atomic.Bool
	s.conn.OnConnect(func() {
		if up.Swap(true) {
			s.consumer.Resubscribe(ctx)
		}
	})
	if err := s.cfg.ConnectRetry.Do(ctx, "mqtt connect", s.conn.Connect); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	defer s.conn.Disconnect()

	if s.cfg.HTTPPort > 0 {
		hs := &http.Server{
			Addr:              ":" + strconv.Itoa(s.cfg.HTTPPort),
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.log.Info("http listening", "port", s.cfg.HTTPPort)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("http server", "err", err)
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shCtx)
		}()
	}

	go s.watchdog.Run(ctx, time.Second)

	s.log.Info("consuming", "topics", s.consumer.Topics())
	return s.consumer.ConsumeMessage(ctx)
}
