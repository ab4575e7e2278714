package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/silo_monitor/internal/config"
	"github.com/LeonardoBeccarini/silo_monitor/internal/metrics"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	sensorSimulator "github.com/LeonardoBeccarini/silo_monitor/internal/sensor-simulator"
	gateway "github.com/LeonardoBeccarini/silo_monitor/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/ingestion"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/monitor"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/persistence"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/settings"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
)

func main() {
	cfgPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// anche il package log (pkg/rabbitmq) passa dall'handler tint
	handler := tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.DateTime})
	slog.SetDefault(slog.New(handler))
	logger := slog.NewLogLogger(handler, slog.LevelInfo)
	loc := cfg.Engine.Location()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- MQTT (opzionale) ---
	var (
		mqClient  mqtt.Client
		consumers []*rabbitmq.Consumer
		consMu    sync.Mutex
	)
	if cfg.RabbitMQ.Enabled {
		mqCfg := &rabbitmq.RabbitMQConfig{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			User:     cfg.RabbitMQ.User,
			Password: cfg.RabbitMQ.Password,
			ClientID: cfg.RabbitMQ.ClientID,

			ConnectRetries: cfg.RabbitMQ.ConnectRetries,
			OnConnectionLost: func(error) {
				m.ConnectionLost()
			},
			// dopo una riconnessione le subscription vanno rifatte
			OnConnect: func(mqtt.Client) {
				consMu.Lock()
				defer consMu.Unlock()
				for _, c := range consumers {
					if err := c.Subscribe(); err != nil {
						logger.Printf("mqtt: resubscribe %s: %v", c.Topic(), err)
					}
				}
			},
		}
		mqClient, err = rabbitmq.NewRabbitMQConn(mqCfg, ctx)
		if err != nil {
			log.Fatalf("mqtt connect failed: %v", err)
		}
	}

	// --- InfluxDB (opzionale) ---
	var (
		archive  persistence.Archive = persistence.NewMemoryArchive()
		repo     settings.Repository = settings.NewMemoryRepository()
		influxDB influxdb2.Client
		flush    = func() {}
	)
	if cfg.Influx.Enabled() {
		influxDB = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		ia, err := persistence.NewInfluxArchive(influxDB, persistence.InfluxConfig{
			InfluxOrg:      cfg.Influx.Org,
			InfluxBucket:   cfg.Influx.Bucket,
			LogMeasurement: cfg.Influx.Measurement,
		}, m)
		if err != nil {
			log.Fatalf("persistence init failed: %v", err)
		}
		archive = ia
		flush = ia.Flush
		repo = settings.NewInfluxRepository(influxDB, cfg.Influx.Org, cfg.Influx.Bucket, "")
	} else {
		logger.Printf("persistence: influx not configured, logsheet is kept in memory only")
	}

	// --- Settings ---
	storeOpts := settings.Options{
		Logger:          logger,
		Metrics:         m,
		BreakerFailures: cfg.Settings.BreakerFailures,
		BreakerOpenFor:  cfg.Settings.BreakerOpenFor,
		LoadRetries:     cfg.Settings.LoadRetries,
	}
	if mqClient != nil {
		storeOpts.Notifier = settings.NewMQTTNotifier(mqClient)
	}
	store := settings.NewStore(repo, storeOpts)
	th := store.Load(ctx)
	logger.Printf("settings: moisture band [%.2f, %.2f]", th.Min, th.Max)
	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()

	// --- Engine ---
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	deps := monitor.Deps{
		Thresholds: store,
		Updates:    updates,
		Archive:    archive,
		Metrics:    m,
	}
	gen := sensorSimulator.NewDataGenerator(rng)
	if cfg.Engine.Simulate {
		deps.Source = gen
	}

	// l'hub legge lo snapshot corrente solo dopo l'avvio del loop
	var engine *monitor.Engine
	hub := gateway.NewHub(func() messages.Snapshot { return engine.Snapshot() }, logger)
	deps.Sinks = []monitor.Sink{hub}
	var mqttSink *monitor.MQTTSink
	if mqClient != nil {
		mqttSink = monitor.NewMQTTSink(
			rabbitmq.NewPublisher(mqClient, monitor.TopicSnapshot),
			rabbitmq.NewPublisher(mqClient, monitor.TopicAlerts, rabbitmq.WithQoS(1)),
			8, m)
		deps.Sinks = append(deps.Sinks, mqttSink)
	}

	engine = monitor.NewEngine(monitor.Config{
		TickInterval:  cfg.Engine.TickInterval,
		TrendSize:     cfg.Engine.TrendSize,
		LogInterval:   cfg.Engine.LogInterval,
		AlertCapacity: cfg.Engine.AlertCapacity,
		Location:      loc,
		Logger:        logger,
	}, deps)

	now := time.Now()
	var (
		trend []messages.TrendPoint
		logs  []messages.LogEntry
	)
	if cfg.Engine.SeedHistory {
		trend = sensorSimulator.SyntheticTrend(now, cfg.Engine.TrendSize, cfg.Engine.TrendSpacing, loc, rng)
		logs = sensorSimulator.SyntheticLog(now, cfg.Engine.SeedLogEntries, cfg.Engine.LogInterval, rng)
	}
	// dopo un restart il gate dei 30 minuti riparte dall'ultima riga in archivio
	if archive.Durable() {
		logs, err = monitor.RecoverHistory(ctx, archive, logs, now, cfg.Engine.LogInterval)
		if err != nil {
			logger.Printf("persistence: could not read recent logsheet rows: %v", err)
		}
	}
	if n := len(logs); n > 0 {
		gen.Reset(logs[n-1].Pair())
	}
	engine.Seed(trend, logs)

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	goRun(func() { hub.Run(ctx) })
	goRun(func() {
		if err := engine.Run(ctx); err != nil {
			logger.Printf("engine: %v", err)
		}
	})
	goRun(func() { store.RunRefresh(ctx, cfg.Settings.RefreshInterval) })
	if mqttSink != nil {
		goRun(func() { mqttSink.Run(ctx) })
	}

	// --- Ingestion ---
	svc := ingestion.NewService(archive, engine, m, logger)

	if mqClient != nil {
		subs := []*rabbitmq.Consumer{
			rabbitmq.NewConsumer(mqClient, monitor.TopicReadings, 1,
				ingestion.NewMQTTHandler(ctx, svc, dedup.New(cfg.Ingest.DedupTTL, 4096), 5*time.Second)),
			rabbitmq.NewConsumer(mqClient, settings.TopicSettings, 1,
				settings.NewUpdateHandler(store, dedup.New(cfg.Ingest.DedupTTL, 256))),
		}
		consMu.Lock()
		consumers = subs
		consMu.Unlock()
		for _, c := range subs {
			c := c
			goRun(func() {
				if err := c.ConsumeMessage(ctx); err != nil {
					logger.Printf("mqtt: consumer %s: %v", c.Topic(), err)
				}
			})
		}
	}

	// --- gRPC health ---
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, monitor.NewHealthServer(ctx, engine))
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatalf("grpc listen %s: %v", cfg.GRPC.Addr, err)
	}
	go func() {
		logger.Printf("grpc health listening on %s", cfg.GRPC.Addr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Printf("grpc server error: %v", err)
		}
	}()

	// --- HTTP ---
	probe := persistence.Probe{MQTT: mqClient, Archive: archive, Engine: engine, MinErrorAge: time.Minute}
	gw := gateway.NewGateway(gateway.Config{Logger: logger}, engine, store, hub, gateway.Routes{
		Ingest:   ingestion.NewHandler(svc),
		Logsheet: persistence.NewLogsheetHandler(engine, archive, store, loc),
		Metrics:  m.Handler(),
		Health:   persistence.NewHealthHandler(probe),
		Ready:    persistence.NewReadyHandler(probe),
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gw.Router(m.WrapHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Printf("monitor HTTP listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	grpcSrv.GracefulStop()
	wg.Wait()
	flush()
	if influxDB != nil {
		influxDB.Close()
	}
	logger.Println("monitor: shutdown complete")
}
