package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// Engine is the read/dismiss surface of the monitor loop.
type Engine interface {
	Snapshot() messages.Snapshot
	Dismiss(ctx context.Context, key messages.AlertKey) (bool, error)
}

// Settings is the threshold store.
type Settings interface {
	Current() entities.ThresholdConfig
	Update(ctx context.Context, min, max float64) (entities.ThresholdConfig, error)
}

type Config struct {
	HTTPTimeout time.Duration
	Logger      *log.Logger
}

// Routes are the handlers built by other packages and mounted by the gateway.
type Routes struct {
	Ingest   http.Handler
	Logsheet http.Handler
	Metrics  http.Handler
	Health   http.Handler
	Ready    http.Handler
}

type Gateway struct {
	cfg      Config
	engine   Engine
	settings Settings
	hub      *Hub
	routes   Routes
}

func NewGateway(cfg Config, engine Engine, settings Settings, hub *Hub, routes Routes) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Gateway{cfg: cfg, engine: engine, settings: settings, hub: hub, routes: routes}
}
