package messages

import (
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
)

// LogEntry is one logsheet row, recorded at most once per log interval.
type LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Silo1Moisture float64   `json:"silo1_moisture"`
	Silo1Temp     float64   `json:"silo1_temp"`
	Silo2Moisture float64   `json:"silo2_moisture"`
	Silo2Temp     float64   `json:"silo2_temp"`
}

func EntryFromPair(p SamplePair, ts time.Time) LogEntry {
	return LogEntry{
		Timestamp:     ts,
		Silo1Moisture: p.Silo1.Moisture,
		Silo1Temp:     p.Silo1.Temperature,
		Silo2Moisture: p.Silo2.Moisture,
		Silo2Temp:     p.Silo2.Temperature,
	}
}

// Pair rebuilds the sample pair the entry was recorded from.
func (e LogEntry) Pair() SamplePair {
	return SamplePair{
		Silo1: SensorSample{SiloID: entities.Silo1, Moisture: e.Silo1Moisture, Temperature: e.Silo1Temp, Timestamp: e.Timestamp},
		Silo2: SensorSample{SiloID: entities.Silo2, Moisture: e.Silo2Moisture, Temperature: e.Silo2Temp, Timestamp: e.Timestamp},
	}
}

// LogRecord is a durable logsheet row as stored in the archive.
type LogRecord struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id,omitempty"`
	Source   string `json:"source,omitempty"` // "ingest" | "tick"
	LogEntry
}

const (
	SourceIngest = "ingest"
	SourceTick   = "tick"
)

// BandStatus places a moisture reading relative to the configured band.
type BandStatus string

const (
	BandHigh   BandStatus = "high"
	BandLow    BandStatus = "low"
	BandNormal BandStatus = "normal"
)

func Band(moisture float64, t entities.ThresholdConfig) BandStatus {
	switch {
	case moisture > t.Max:
		return BandHigh
	case moisture < t.Min:
		return BandLow
	default:
		return BandNormal
	}
}

// LogSheetRow is what the export collaborator receives: the entry plus the
// per-silo band under the thresholds in force at export time.
type LogSheetRow struct {
	LogEntry
	Silo1Status BandStatus `json:"silo1_status"`
	Silo2Status BandStatus `json:"silo2_status"`
}

func NewLogSheetRow(e LogEntry, t entities.ThresholdConfig) LogSheetRow {
	return LogSheetRow{
		LogEntry:    e,
		Silo1Status: Band(e.Silo1Moisture, t),
		Silo2Status: Band(e.Silo2Moisture, t),
	}
}
