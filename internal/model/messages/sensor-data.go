package messages

import (
	"time"
)

// SensorSample is one reading for one silo.
type SensorSample struct {
	SiloID      int       `json:"silo_id"`
	Moisture    float64   `json:"moisture"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// SamplePair holds the samples of both silos produced by one tick or one ingest call.
type SamplePair struct {
	Silo1 SensorSample `json:"silo1"`
	Silo2 SensorSample `json:"silo2"`
}

// Samples returns the pair in silo order.
func (p SamplePair) Samples() [2]SensorSample {
	return [2]SensorSample{p.Silo1, p.Silo2}
}

// Timestamp is the later of the two sample timestamps.
func (p SamplePair) Timestamp() time.Time {
	if p.Silo2.Timestamp.After(p.Silo1.Timestamp) {
		return p.Silo2.Timestamp
	}
	return p.Silo1.Timestamp
}

// TrendPoint is a sample pair projected for short-interval charting.
type TrendPoint struct {
	Label         string    `json:"time"`
	Time          time.Time `json:"timestamp"`
	Silo1Moisture float64   `json:"silo1Moisture"`
	Silo2Moisture float64   `json:"silo2Moisture"`
	Silo1Temp     float64   `json:"silo1Temp"`
	Silo2Temp     float64   `json:"silo2Temp"`
}

// PointFromPair labels the point with the HH:MM of its timestamp in loc.
func PointFromPair(p SamplePair, loc *time.Location) TrendPoint {
	ts := p.Timestamp()
	if loc == nil {
		loc = time.Local
	}
	return TrendPoint{
		Label:         ts.In(loc).Format("15:04"),
		Time:          ts,
		Silo1Moisture: p.Silo1.Moisture,
		Silo2Moisture: p.Silo2.Moisture,
		Silo1Temp:     p.Silo1.Temperature,
		Silo2Temp:     p.Silo2.Temperature,
	}
}
