package app

import (
	"math"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// Stats summarises one silo's moisture over the trend window.
type Stats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type DashboardData struct {
	messages.Snapshot
	Stats map[string]Stats `json:"stats"`
}

type settingsRequest struct {
	Min *float64 `json:"min_moisture"`
	Max *float64 `json:"max_moisture"`
}

// trendStats ignores the zero padding of a freshly created buffer.
func trendStats(trend []messages.TrendPoint) map[string]Stats {
	out := map[string]Stats{}
	for _, silo := range []string{"silo1", "silo2"} {
		var sum float64
		n := 0
		minv, maxv := math.MaxFloat64, -math.MaxFloat64
		for _, p := range trend {
			if p.Time.IsZero() {
				continue
			}
			v := p.Silo1Moisture
			if silo == "silo2" {
				v = p.Silo2Moisture
			}
			sum += v
			n++
			minv = math.Min(minv, v)
			maxv = math.Max(maxv, v)
		}
		if n == 0 {
			continue
		}
		out[silo] = Stats{Mean: math.Round(sum/float64(n)*100) / 100, Min: minv, Max: maxv}
	}
	return out
}
