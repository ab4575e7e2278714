package sensor_simulator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// ====== Tunables ======
const (
	moistureVariance    = 0.5
	temperatureVariance = 2.0

	// limiti fisici del simulatore
	minMoisture    = 3.0
	maxMoisture    = 9.0
	minTemperature = 35.0
	maxTemperature = 55.0
)

type siloState struct {
	moisture    float64
	temperature float64
}

// DataGenerator keeps the last value per silo and random-walks from it.
type DataGenerator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	silo1 siloState
	silo2 siloState
}

// NewDataGenerator starts from the cold-start seeds. A nil rng uses a time-seeded source.
func NewDataGenerator(rng *rand.Rand) *DataGenerator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DataGenerator{
		rng:   rng,
		silo1: siloState{moisture: 5.8, temperature: 42},
		silo2: siloState{moisture: 6.2, temperature: 45},
	}
}

// Next advances both silos by one step and returns the new pair stamped with now.
func (g *DataGenerator) Next(now time.Time) (messages.SamplePair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.silo1 = g.step(g.silo1)
	g.silo2 = g.step(g.silo2)

	return messages.SamplePair{
		Silo1: messages.SensorSample{SiloID: entities.Silo1, Moisture: g.silo1.moisture, Temperature: g.silo1.temperature, Timestamp: now},
		Silo2: messages.SensorSample{SiloID: entities.Silo2, Moisture: g.silo2.moisture, Temperature: g.silo2.temperature, Timestamp: now},
	}, nil
}

// Reset sposta lo stato su un campione noto (es. ultimo dato ingerito).
func (g *DataGenerator) Reset(p messages.SamplePair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silo1 = siloState{moisture: clamp(p.Silo1.Moisture, minMoisture, maxMoisture), temperature: clamp(p.Silo1.Temperature, minTemperature, maxTemperature)}
	g.silo2 = siloState{moisture: clamp(p.Silo2.Moisture, minMoisture, maxMoisture), temperature: clamp(p.Silo2.Temperature, minTemperature, maxTemperature)}
}

func (g *DataGenerator) step(s siloState) siloState {
	return siloState{
		moisture:    clamp(jitter(g.rng, s.moisture, moistureVariance), minMoisture, maxMoisture),
		temperature: clamp(jitter(g.rng, s.temperature, temperatureVariance), minTemperature, maxTemperature),
	}
}

// jitter returns base + uniform(-variance/2, variance/2).
func jitter(rng *rand.Rand, base, variance float64) float64 {
	return base + (rng.Float64()-0.5)*variance
}

// SyntheticTrend builds n historical points ending at now, spaced by spacing.
func SyntheticTrend(now time.Time, n int, spacing time.Duration, loc *time.Location, rng *rand.Rand) []messages.TrendPoint {
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}
	out := make([]messages.TrendPoint, 0, n)
	for i := n - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * spacing)
		out = append(out, messages.PointFromPair(messages.SamplePair{
			Silo1: messages.SensorSample{SiloID: entities.Silo1, Moisture: jitter(rng, 5.5, 1.5), Temperature: jitter(rng, 42, 5), Timestamp: ts},
			Silo2: messages.SensorSample{SiloID: entities.Silo2, Moisture: jitter(rng, 6.0, 1.5), Temperature: jitter(rng, 45, 5), Timestamp: ts},
		}, loc))
	}
	return out
}

// SyntheticLog builds n logsheet entries ending one interval before now, oldest first.
func SyntheticLog(now time.Time, n int, interval time.Duration, rng *rand.Rand) []messages.LogEntry {
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}
	out := make([]messages.LogEntry, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, messages.LogEntry{
			Timestamp:     now.Add(-time.Duration(i) * interval),
			Silo1Moisture: jitter(rng, 5.5, 1.5),
			Silo1Temp:     jitter(rng, 42, 5),
			Silo2Moisture: jitter(rng, 6.0, 1.5),
			Silo2Temp:     jitter(rng, 45, 5),
		})
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
