package monitor

import (
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// TrendBuffer is a fixed-length FIFO window of trend points.
// Its length is always exactly the capacity given at construction.
type TrendBuffer struct {
	points []messages.TrendPoint
	loc    *time.Location
}

// NewTrendBuffer returns a full buffer of n zero points; call Seed to fill it with history.
func NewTrendBuffer(n int, loc *time.Location) *TrendBuffer {
	if n <= 0 {
		n = 12
	}
	if loc == nil {
		loc = time.Local
	}
	return &TrendBuffer{points: make([]messages.TrendPoint, n), loc: loc}
}

func (b *TrendBuffer) Len() int { return len(b.points) }

// Seed replaces the newest entries with pts, keeping only the last Len() of them.
func (b *TrendBuffer) Seed(pts []messages.TrendPoint) {
	if len(pts) > len(b.points) {
		pts = pts[len(pts)-len(b.points):]
	}
	shift := len(pts)
	copy(b.points, b.points[shift:])
	copy(b.points[len(b.points)-shift:], pts)
}

// Append evicts the oldest point and appends p. It returns a copy of the window.
func (b *TrendBuffer) Append(p messages.SamplePair) []messages.TrendPoint {
	copy(b.points, b.points[1:])
	b.points[len(b.points)-1] = messages.PointFromPair(p, b.loc)
	return b.Snapshot()
}

// Snapshot returns a copy, oldest first.
func (b *TrendBuffer) Snapshot() []messages.TrendPoint {
	out := make([]messages.TrendPoint, len(b.points))
	copy(out, b.points)
	return out
}
