package messages

import (
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
)

// SiloReading is the latest reading of one silo together with its classification.
type SiloReading struct {
	SiloID            int                 `json:"silo"`
	Moisture          float64             `json:"moisture"`
	Temperature       float64             `json:"temperature"`
	MoistureStatus    entities.SiloStatus `json:"moisture_status"`
	TemperatureStatus entities.SiloStatus `json:"temperature_status"`
	LastUpdated       time.Time           `json:"last_updated"`
}

// Snapshot is the state published by the engine after every update.
// It is immutable once published; consumers get copies.
type Snapshot struct {
	Seq         uint64                   `json:"seq"`
	Silos       []SiloReading            `json:"silos"`
	Trend       []TrendPoint             `json:"trend"`
	Alerts      []Alert                  `json:"alerts"`
	Raised      []Alert                  `json:"raised,omitempty"`
	Thresholds  entities.ThresholdConfig `json:"thresholds"`
	LogEntries  int                      `json:"log_entries"`
	LastLogTime time.Time                `json:"last_log_time"`
	UpdatedAt   time.Time                `json:"updated_at"`
}
