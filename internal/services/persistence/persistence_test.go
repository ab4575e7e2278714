package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq/rabbitmqtest"
)

var day = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

type memLog struct {
	entries []messages.LogEntry
	err     error
}

func (m memLog) Logsheet(_ context.Context, from, to time.Time) ([]messages.LogEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []messages.LogEntry
	for _, e := range m.entries {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixedThresholds entities.ThresholdConfig

func (f fixedThresholds) Current() entities.ThresholdConfig { return entities.ThresholdConfig(f) }

type durableArchive struct {
	*MemoryArchive
	rows []messages.LogEntry
	err  error
}

func (d durableArchive) Range(context.Context, time.Time, time.Time) ([]messages.LogEntry, error) {
	return d.rows, d.err
}

func (d durableArchive) Durable() bool { return true }

func getLogsheet(t *testing.T, h http.Handler, query string) (*httptest.ResponseRecorder, logsheetResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logsheet"+query, nil))
	var body logsheetResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestLogsheet_MemoryRangeAndStatus(t *testing.T) {
	mem := memLog{entries: []messages.LogEntry{
		{Timestamp: day.Add(-30 * time.Minute), Silo1Moisture: 5},
		{Timestamp: day, Silo1Moisture: 7.5, Silo2Moisture: 4},
		{Timestamp: day.Add(23*time.Hour + 30*time.Minute), Silo1Moisture: 6, Silo2Moisture: 6},
		{Timestamp: day.Add(24 * time.Hour), Silo1Moisture: 6},
	}}
	h := NewLogsheetHandler(mem, NewMemoryArchive(), fixedThresholds(entities.DefaultThresholds()), time.UTC)

	rec, body := getLogsheet(t, h, "?start=2024-07-01&end=2024-07-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "memory", rec.Header().Get("X-Data-Source"))
	require.Len(t, body.Rows, 2)
	assert.Equal(t, messages.BandHigh, body.Rows[0].Silo1Status)
	assert.Equal(t, messages.BandLow, body.Rows[0].Silo2Status)
	assert.Equal(t, messages.BandNormal, body.Rows[1].Silo1Status)
}

func TestLogsheet_AutoPrefersArchive(t *testing.T) {
	arch := durableArchive{MemoryArchive: NewMemoryArchive(), rows: []messages.LogEntry{{Timestamp: day, Silo1Moisture: 6}}}
	h := NewLogsheetHandler(memLog{}, arch, fixedThresholds(entities.DefaultThresholds()), time.UTC)

	rec, body := getLogsheet(t, h, "?start=2024-07-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive", rec.Header().Get("X-Data-Source"))
	assert.Len(t, body.Rows, 1)

	rec, _ = getLogsheet(t, h, "?start=2024-07-01&source=memory")
	assert.Equal(t, "memory", rec.Header().Get("X-Data-Source"))
}

func TestLogsheet_ArchiveFailure(t *testing.T) {
	arch := durableArchive{MemoryArchive: NewMemoryArchive(), err: errors.New("influx down")}
	mem := memLog{entries: []messages.LogEntry{{Timestamp: day}}}
	h := NewLogsheetHandler(mem, arch, fixedThresholds(entities.DefaultThresholds()), time.UTC)

	rec, body := getLogsheet(t, h, "?start=2024-07-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "memory", rec.Header().Get("X-Data-Source"))
	assert.Len(t, body.Rows, 1)

	rec, _ = getLogsheet(t, h, "?start=2024-07-01&source=archive")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	h = NewLogsheetHandler(mem, NewMemoryArchive(), fixedThresholds(entities.DefaultThresholds()), time.UTC)
	rec, _ = getLogsheet(t, h, "?source=archive")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogsheet_BadParams(t *testing.T) {
	h := NewLogsheetHandler(memLog{}, nil, fixedThresholds(entities.DefaultThresholds()), time.UTC)
	for _, q := range []string{"?start=01-07-2024", "?start=2024-07-02&end=2024-07-01", "?source=cache"} {
		rec, _ := getLogsheet(t, h, q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHealth_ReportsDependencies(t *testing.T) {
	client := rabbitmqtest.NewClient()
	p := Probe{MQTT: client, Archive: NewMemoryArchive(), Engine: running(true), MinErrorAge: 30 * time.Second}

	rec := httptest.NewRecorder()
	NewReadyHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	client.SetConnected(false)
	rec = httptest.NewRecorder()
	NewReadyHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var st healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "degraded", st.Status)
	assert.False(t, st.MQTTConnected)

	p = Probe{Archive: NewMemoryArchive(), Engine: running(false)}
	st, ready := p.check()
	assert.False(t, ready)
	assert.Equal(t, "down", st.Status)
}

type running bool

func (r running) Running() bool { return bool(r) }

func TestMemoryArchive(t *testing.T) {
	a := NewMemoryArchive()
	require.NoError(t, a.Save(context.Background(), messages.LogRecord{ID: "1"}))
	a.Enqueue(messages.LogRecord{ID: "b", LogEntry: messages.LogEntry{Timestamp: day.Add(time.Hour)}})
	a.Enqueue(messages.LogRecord{ID: "a", LogEntry: messages.LogEntry{Timestamp: day}})

	assert.Len(t, a.Readings(), 1)
	assert.Equal(t, "a", a.Entries()[0].ID)
	_, err := a.Range(context.Background(), day, day)
	assert.ErrorIs(t, err, ErrArchiveUnavailable)

	a.SaveErr = errors.New("full")
	assert.Error(t, a.Save(context.Background(), messages.LogRecord{}))
}

const rangeCSV = "#datatype,string,long,dateTime:RFC3339,string,string,double,double,double,double\r\n" +
	"#group,false,false,false,true,false,false,false,false,false\r\n" +
	"#default,_result,,,,,,,,\r\n" +
	",result,table,_time,source,id,silo1_moisture,silo1_temp,silo2_moisture,silo2_temp\r\n" +
	",,0,2024-07-01T08:00:00Z,tick,x1,5.5,42,6.1,45\r\n" +
	",,0,2024-07-01T08:30:00Z,tick,x2,5.6,43,6.2,44\r\n" +
	"\r\n"

func TestInfluxArchive_SaveAndRange(t *testing.T) {
	writes := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/write":
			b, _ := io.ReadAll(r.Body)
			writes <- string(b)
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/query":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			_, _ = w.Write([]byte(rangeCSV))
		}
	}))
	defer srv.Close()

	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()
	a, err := NewInfluxArchive(client, InfluxConfig{InfluxOrg: "sdcc", InfluxBucket: "silo"}, nil)
	require.NoError(t, err)

	err = a.Save(context.Background(), messages.LogRecord{
		ID: "r1", DeviceID: "ESP32 01", Source: messages.SourceIngest,
		LogEntry: messages.LogEntry{Timestamp: day, Silo1Moisture: 5.5, Silo1Temp: 42, Silo2Moisture: 6, Silo2Temp: 45},
	})
	require.NoError(t, err)
	line := <-writes
	assert.True(t, strings.HasPrefix(line, "silo_readings,"), line)
	assert.Contains(t, line, "device_id=ESP32_01")
	assert.Contains(t, line, "silo1_moisture=5.5")

	entries, err := a.Range(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 5.6, entries[1].Silo1Moisture)
	assert.Equal(t, 44.0, entries[1].Silo2Temp)
	assert.True(t, a.Durable())
	assert.Greater(t, a.LastErrorAge(), time.Hour)
}

func TestInfluxArchive_FlushSendsQueuedEntries(t *testing.T) {
	writes := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			b, _ := io.ReadAll(r.Body)
			writes <- string(b)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()
	a, err := NewInfluxArchive(client, InfluxConfig{InfluxOrg: "sdcc", InfluxBucket: "silo"}, nil)
	require.NoError(t, err)

	a.Enqueue(messages.LogRecord{
		ID: "t1", Source: messages.SourceTick,
		LogEntry: messages.LogEntry{Timestamp: day, Silo1Moisture: 5.1, Silo1Temp: 40, Silo2Moisture: 6.3, Silo2Temp: 46},
	})
	a.Flush()

	select {
	case line := <-writes:
		assert.True(t, strings.HasPrefix(line, "silo_log,"), line)
		assert.Contains(t, line, "source=tick")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("queued entry was not written on flush")
	}
}

func TestNewInfluxArchive_RequiresConfig(t *testing.T) {
	_, err := NewInfluxArchive(nil, InfluxConfig{}, nil)
	assert.Error(t, err)
}

func TestBuildRangeFlux(t *testing.T) {
	q := buildRangeFlux("silo", "silo_log", day, day.Add(time.Hour))
	assert.Contains(t, q, "range(start: 2024-07-01T00:00:00Z, stop: 2024-07-01T01:00:00.000000001Z)")
	assert.Contains(t, q, `r._measurement == "silo_log"`)
}
