package messages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
)

// Ingestion-boundary ranges.
const (
	MinMoisture    = 0.0
	MaxMoisture    = 100.0
	MinTemperature = -40.0
	MaxTemperature = 150.0
)

// RequiredFields are the payload keys a device must always send.
var RequiredFields = []string{"silo1_moisture", "silo1_temp", "silo2_moisture", "silo2_temp"}

// ExampleReading is returned to devices that send an incomplete payload.
var ExampleReading = map[string]any{
	"silo1_moisture": 5.5,
	"silo1_temp":     42.0,
	"silo2_moisture": 6.2,
	"silo2_temp":     45.0,
	"device_id":      "ESP32_01",
}

// Reading is the combined payload pushed by a device for both silos.
// Fields are pointers so that an absent key can be told apart from a zero.
type Reading struct {
	Silo1Moisture *float64 `json:"silo1_moisture"`
	Silo1Temp     *float64 `json:"silo1_temp"`
	Silo2Moisture *float64 `json:"silo2_moisture"`
	Silo2Temp     *float64 `json:"silo2_temp"`
	DeviceID      string   `json:"device_id,omitempty"`
}

// MissingFieldsError lists the required keys absent from a payload.
type MissingFieldsError struct {
	Missing []string
}

func (e *MissingFieldsError) Error() string {
	return "Missing required fields: " + strings.Join(e.Missing, ", ")
}

// DecodeReading parses a JSON payload. It does not validate it.
func DecodeReading(b []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(b, &r); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	return r, nil
}

// NewReading builds a complete reading, as a device would send it.
func NewReading(deviceID string, pair SamplePair) Reading {
	m1, t1 := pair.Silo1.Moisture, pair.Silo1.Temperature
	m2, t2 := pair.Silo2.Moisture, pair.Silo2.Temperature
	return Reading{Silo1Moisture: &m1, Silo1Temp: &t1, Silo2Moisture: &m2, Silo2Temp: &t2, DeviceID: deviceID}
}

// Validate checks presence first, then ranges. The first range violation wins.
func (r Reading) Validate() error {
	var missing []string
	for i, v := range []*float64{r.Silo1Moisture, r.Silo1Temp, r.Silo2Moisture, r.Silo2Temp} {
		if v == nil {
			missing = append(missing, RequiredFields[i])
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Missing: missing}
	}

	checks := []struct {
		field    string
		value    float64
		min, max float64
	}{
		{"silo1_moisture", *r.Silo1Moisture, MinMoisture, MaxMoisture},
		{"silo2_moisture", *r.Silo2Moisture, MinMoisture, MaxMoisture},
		{"silo1_temp", *r.Silo1Temp, MinTemperature, MaxTemperature},
		{"silo2_temp", *r.Silo2Temp, MinTemperature, MaxTemperature},
	}
	for _, c := range checks {
		// written as a negation so NaN is rejected too
		if !(c.value >= c.min && c.value <= c.max) {
			return &entities.ValidationError{Field: c.field, Min: c.min, Max: c.max, Value: c.value}
		}
	}
	return nil
}

// Pair converts a validated reading into per-silo samples stamped with ts.
// It panics on an incomplete reading; call Validate first.
func (r Reading) Pair(ts time.Time) SamplePair {
	return SamplePair{
		Silo1: SensorSample{SiloID: entities.Silo1, Moisture: *r.Silo1Moisture, Temperature: *r.Silo1Temp, Timestamp: ts},
		Silo2: SensorSample{SiloID: entities.Silo2, Moisture: *r.Silo2Moisture, Temperature: *r.Silo2Temp, Timestamp: ts},
	}
}
