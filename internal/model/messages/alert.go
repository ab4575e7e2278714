package messages

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type AlertKind string

const (
	AlertHigh AlertKind = "high"
	AlertLow  AlertKind = "low"
)

// AlertKey identifies an alert by silo, kind and a per-engine creation sequence.
type AlertKey struct {
	SiloID int
	Kind   AlertKind
	Seq    uint64
}

func (k AlertKey) String() string {
	return fmt.Sprintf("%d-%s-%d", k.SiloID, k.Kind, k.Seq)
}

func (k AlertKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *AlertKey) UnmarshalText(b []byte) error {
	parsed, err := ParseAlertKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseAlertKey parses the "<silo>-<kind>-<seq>" form.
func ParseAlertKey(s string) (AlertKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return AlertKey{}, fmt.Errorf("invalid alert id %q", s)
	}
	silo, err := strconv.Atoi(parts[0])
	if err != nil {
		return AlertKey{}, fmt.Errorf("invalid alert id %q: silo: %w", s, err)
	}
	kind := AlertKind(parts[1])
	if kind != AlertHigh && kind != AlertLow {
		return AlertKey{}, fmt.Errorf("invalid alert id %q: unknown kind %q", s, parts[1])
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return AlertKey{}, fmt.Errorf("invalid alert id %q: seq: %w", s, err)
	}
	return AlertKey{SiloID: silo, Kind: kind, Seq: seq}, nil
}

// Alert records a moisture reading outside the configured band.
type Alert struct {
	Key       AlertKey  `json:"id"`
	SiloID    int       `json:"silo"`
	Kind      AlertKind `json:"type"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
