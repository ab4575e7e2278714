// Package entities internal/model/entities/policy.go
package entities

import (
	"math"
	"time"
)

const (
	DefaultMinMoisture = 4.5
	DefaultMaxMoisture = 7.0

	// MoistureCeiling is the highest max bound an operator may configure.
	MoistureCeiling = 15.0
)

// ThresholdConfig holds the acceptable moisture band, in percent.
type ThresholdConfig struct {
	Min float64 `json:"min_moisture"`
	Max float64 `json:"max_moisture"`
}

// DefaultThresholds is used until a configuration is persisted, and whenever the backing store cannot be read.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{Min: DefaultMinMoisture, Max: DefaultMaxMoisture}
}

// Validate enforces 0 <= min < max <= 15.
func (t ThresholdConfig) Validate() error {
	if math.IsNaN(t.Min) || math.IsInf(t.Min, 0) {
		return &ValidationError{Field: "min_moisture", Value: t.Min, Reason: "min_moisture must be a finite number"}
	}
	if math.IsNaN(t.Max) || math.IsInf(t.Max, 0) {
		return &ValidationError{Field: "max_moisture", Value: t.Max, Reason: "max_moisture must be a finite number"}
	}
	if t.Min >= t.Max {
		return &ValidationError{Field: "min_moisture", Min: 0, Max: t.Max, Value: t.Min,
			Reason: "min_moisture must be lower than max_moisture"}
	}
	if t.Min < 0 {
		return &ValidationError{Field: "min_moisture", Min: 0, Max: MoistureCeiling, Value: t.Min,
			Reason: "moisture thresholds must be between 0% and 15%"}
	}
	if t.Max > MoistureCeiling {
		return &ValidationError{Field: "max_moisture", Min: 0, Max: MoistureCeiling, Value: t.Max,
			Reason: "moisture thresholds must be between 0% and 15%"}
	}
	return nil
}

// MoistureStatus classifies a reading against the band: above max is danger, below min is warning.
func (t ThresholdConfig) MoistureStatus(moisture float64) SiloStatus {
	switch {
	case moisture > t.Max:
		return StatusDanger
	case moisture < t.Min:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// SettingsRecord is one persisted configuration row. The most recently created row is authoritative.
type SettingsRecord struct {
	ID          string    `json:"id"`
	MinMoisture float64   `json:"min_moisture"`
	MaxMoisture float64   `json:"max_moisture"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r SettingsRecord) Thresholds() ThresholdConfig {
	return ThresholdConfig{Min: r.MinMoisture, Max: r.MaxMoisture}
}
