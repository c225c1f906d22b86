// Package node is the room telemetry node: it samples the sensors, batches
// the readings and publishes them over MQTT.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/roomsense/internal/connectivity"
	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/sensors"
	"github.com/LeonardoBeccarini/roomsense/internal/timesource"
	"github.com/LeonardoBeccarini/roomsense/pkg/broker"
	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
	"github.com/LeonardoBeccarini/roomsense/pkg/retry"
)

type Config struct {
	Device model.Device
	Broker broker.Config
	// Interface is the network interface to watch; empty means the network
	// is always considered up.
	Interface string
	NTPServer string
	Batch     BatcherConfig
	Capacity  int

	NetRetry    retry.Policy
	BrokerRetry retry.Policy

	HTTPPort int
	GRPCPort int
}

// Node wires connectivity, time, sensors and the batcher together.
type Node struct {
	cfg      Config
	conn     *broker.Conn
	manager  *connectivity.Manager
	clock    *timesource.NTP
	sources  sensors.Set
	batcher  *Batcher
	registry *prometheus.Registry
	metrics  *Metrics
	log      *slog.Logger
}

func New(cfg Config, sources sensors.Set, log *slog.Logger) (*Node, error) {
	log = logging.Or(log).With("component", "node", "room", cfg.Device.RoomID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(reg)

	var link connectivity.Link = connectivity.AlwaysUp{}
	if cfg.Interface != "" {
		link = connectivity.NewInterfaceLink(cfg.Interface)
	}
	conn := broker.NewConn(cfg.Broker, log)
	manager := connectivity.NewManager(link, conn, log,
		connectivity.WithNetworkPolicy(cfg.NetRetry),
		connectivity.WithBrokerPolicy(cfg.BrokerRetry),
		connectivity.WithHooks(metrics.Hooks()),
	)

	clock := timesource.New(cfg.NTPServer, manager, log)
	clock.OnFailure = metrics.NTPFailed

	pub := NewPublisher(manager, cfg.Device, cfg.Capacity, log)
	pub.SetMetrics(metrics)

	b, err := NewBatcher(cfg.Batch, sources, pub, clock, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	return &Node{
		cfg:      cfg,
		conn:     conn,
		manager:  manager,
		clock:    clock,
		sources:  sources,
		batcher:  b,
		registry: reg,
		metrics:  metrics,
		log:      log,
	}, nil
}

// Handler returns the HTTP mux with health and metrics endpoints.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", NewHealthHandler(n.manager, n.clock, n.batcher))
	mux.Handle("/readyz", NewReadyHandler(n.manager))
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	return mux
}

// Run brings the node up and samples until ctx is cancelled. Startup blocks
// on network, broker and sensors according to the retry policies.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("starting", "topics", n.cfg.Device.Topics())

	if err := n.manager.ConnectNetwork(ctx); err != nil {
		return err
	}
	if err := n.manager.ConnectBroker(ctx); err != nil {
		return err
	}
	defer n.conn.Disconnect()

	if err := n.sources.Setup(ctx); err != nil {
		return err
	}
	n.clock.Setup(ctx)

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(n.cfg.HTTPPort),
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		n.log.Info("http listening", "port", n.cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("http server", "err", err)
		}
	}()
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shCtx)
	}()

	if n.cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(n.cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("node: grpc listen: %w", err)
		}
		gh := NewGrpcHealth(n.manager, n.log)
		go func() {
			if err := gh.Serve(ctx, lis); err != nil {
				n.log.Error("grpc server", "err", err)
			}
		}()
	}

	err := n.batcher.Run(ctx)
	n.log.Info("stopped", "next_sequence", n.batcher.Sequence())
	return err
}
