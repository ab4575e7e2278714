package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
)

const DefaultMeasurement = "moisture_settings"

// InfluxRepository stores one point per configuration change.
type InfluxRepository struct {
	query       api.QueryAPI
	write       api.WriteAPIBlocking
	bucket      string
	measurement string
}

func NewInfluxRepository(client influxdb2.Client, org, bucket, measurement string) *InfluxRepository {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxRepository{
		query:       client.QueryAPI(org),
		write:       client.WriteAPIBlocking(org, bucket),
		bucket:      bucket,
		measurement: measurement,
	}
}

func (r *InfluxRepository) Save(ctx context.Context, rec entities.SettingsRecord) error {
	p := influxdb2.NewPoint(r.measurement,
		map[string]string{"id": rec.ID},
		map[string]interface{}{
			"min_moisture": rec.MinMoisture,
			"max_moisture": rec.MaxMoisture,
		},
		rec.CreatedAt)
	return r.write.WritePoint(ctx, p)
}

func buildLatestFlux(bucket, measurement string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r._field == "min_moisture" or r._field == "max_moisture")
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)
`, bucket, measurement)
}

func (r *InfluxRepository) Latest(ctx context.Context) (entities.SettingsRecord, error) {
	res, err := r.query.Query(ctx, buildLatestFlux(r.bucket, r.measurement))
	if err != nil {
		return entities.SettingsRecord{}, err
	}
	defer res.Close()

	if !res.Next() {
		if res.Err() != nil {
			return entities.SettingsRecord{}, res.Err()
		}
		return entities.SettingsRecord{}, ErrNoSettings
	}
	rec := res.Record()
	out := entities.SettingsRecord{CreatedAt: rec.Time().UTC()}
	if v, ok := rec.ValueByKey("id").(string); ok {
		out.ID = v
	}
	var okMin, okMax bool
	out.MinMoisture, okMin = toFloat(rec.ValueByKey("min_moisture"))
	out.MaxMoisture, okMax = toFloat(rec.ValueByKey("max_moisture"))
	if !okMin || !okMax {
		return entities.SettingsRecord{}, fmt.Errorf("malformed settings row at %s", out.CreatedAt.Format(time.RFC3339))
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
