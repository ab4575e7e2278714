package monitor

import (
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// DefaultAlertCapacity bounds the outstanding alert set.
const DefaultAlertCapacity = 5

// Crossing reports whether moisture is outside the band and on which side.
// High wins if both could apply.
func Crossing(moisture float64, t entities.ThresholdConfig) (messages.AlertKind, bool) {
	switch {
	case moisture > t.Max:
		return messages.AlertHigh, true
	case moisture < t.Min:
		return messages.AlertLow, true
	default:
		return "", false
	}
}

// AlertEngine keeps the outstanding alerts in creation order.
// Every crossing sample creates a new alert; there is no cooldown.
type AlertEngine struct {
	capacity    int
	seq         uint64
	outstanding []messages.Alert
}

func NewAlertEngine(capacity int) *AlertEngine {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	return &AlertEngine{capacity: capacity, outstanding: make([]messages.Alert, 0, capacity)}
}

// Evaluate creates at most one alert for s. When the set is full the oldest alert is evicted.
func (e *AlertEngine) Evaluate(s messages.SensorSample, t entities.ThresholdConfig) (messages.Alert, bool) {
	kind, crossed := Crossing(s.Moisture, t)
	if !crossed {
		return messages.Alert{}, false
	}
	e.seq++
	a := messages.Alert{
		Key:       messages.AlertKey{SiloID: s.SiloID, Kind: kind, Seq: e.seq},
		SiloID:    s.SiloID,
		Kind:      kind,
		Value:     s.Moisture,
		Timestamp: s.Timestamp,
	}
	if len(e.outstanding) >= e.capacity {
		copy(e.outstanding, e.outstanding[1:])
		e.outstanding[len(e.outstanding)-1] = a
	} else {
		e.outstanding = append(e.outstanding, a)
	}
	return a, true
}

// Dismiss removes the alert with key k. Unknown keys are ignored.
func (e *AlertEngine) Dismiss(k messages.AlertKey) bool {
	for i, a := range e.outstanding {
		if a.Key == k {
			e.outstanding = append(e.outstanding[:i], e.outstanding[i+1:]...)
			return true
		}
	}
	return false
}

func (e *AlertEngine) Outstanding() []messages.Alert {
	out := make([]messages.Alert, len(e.outstanding))
	copy(out, e.outstanding)
	return out
}
