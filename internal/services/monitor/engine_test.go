package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq/rabbitmqtest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedSource returns the queued pairs in order, then an error.
type scriptedSource struct {
	pairs []messages.SamplePair
}

func (s *scriptedSource) Next(now time.Time) (messages.SamplePair, error) {
	if len(s.pairs) == 0 {
		return messages.SamplePair{}, errors.New("exhausted")
	}
	p := s.pairs[0]
	s.pairs = s.pairs[1:]
	p.Silo1.Timestamp, p.Silo2.Timestamp = now, now
	return p, nil
}

type recordingArchive struct {
	mu   sync.Mutex
	recs []messages.LogRecord
}

func (a *recordingArchive) Enqueue(r messages.LogRecord) {
	a.mu.Lock()
	a.recs = append(a.recs, r)
	a.mu.Unlock()
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []messages.Snapshot
}

func (s *recordingSink) Publish(snap messages.Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *recordingSink) last() messages.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[len(s.snaps)-1]
}

type mutableThresholds struct {
	mu sync.Mutex
	th entities.ThresholdConfig
}

func (m *mutableThresholds) Current() entities.ThresholdConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.th
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestEngine(src SampleSource, clk *clock) (*Engine, *recordingArchive, *recordingSink) {
	arch := &recordingArchive{}
	sink := &recordingSink{}
	e := NewEngine(Config{
		TickInterval: time.Hour,
		TrendSize:    12,
		Location:     time.UTC,
		Logger:       quietLogger(),
		Now:          clk.Now,
	}, Deps{Source: src, Archive: arch, Sinks: []Sink{sink}})
	return e, arch, sink
}

func TestEngine_TickOrderAndAlerts(t *testing.T) {
	clk := &clock{t: t0}
	src := &scriptedSource{pairs: []messages.SamplePair{pairAt(t0, 7.5, 3.9)}}
	e, arch, sink := newTestEngine(src, clk)

	e.tick()

	snap := sink.last()
	require.Len(t, snap.Trend, 12)
	assert.Equal(t, 7.5, snap.Trend[11].Silo1Moisture)
	require.Len(t, snap.Raised, 2)
	assert.Equal(t, messages.AlertHigh, snap.Raised[0].Kind)
	assert.Equal(t, 7.5, snap.Raised[0].Value)
	assert.Equal(t, messages.AlertLow, snap.Raised[1].Kind)
	assert.Equal(t, 3.9, snap.Raised[1].Value)
	assert.Len(t, snap.Alerts, 2)

	require.Len(t, snap.Silos, 2)
	assert.Equal(t, entities.StatusDanger, snap.Silos[0].MoistureStatus)
	assert.Equal(t, entities.StatusWarning, snap.Silos[1].MoistureStatus)

	assert.Equal(t, 1, snap.LogEntries)
	require.Len(t, arch.recs, 1)
	assert.Equal(t, messages.SourceTick, arch.recs[0].Source)
	assert.NotEmpty(t, arch.recs[0].ID)
}

func TestEngine_GenerationErrorSkipsTick(t *testing.T) {
	clk := &clock{t: t0}
	e, _, sink := newTestEngine(&scriptedSource{}, clk)
	before := e.Snapshot()

	e.tick()

	assert.Empty(t, sink.snaps)
	assert.Equal(t, before.Seq, e.Snapshot().Seq)
}

func TestEngine_LogGateAcrossTicks(t *testing.T) {
	clk := &clock{t: t0}
	pairs := make([]messages.SamplePair, 100)
	for i := range pairs {
		pairs[i] = pairAt(t0, 5.5, 6)
	}
	e, arch, _ := newTestEngine(&scriptedSource{pairs: pairs}, clk)

	e.tick()
	// just under 30 minutes of further ticks
	for i := 0; i < 59; i++ {
		clk.Advance(30 * time.Second)
		e.tick()
	}
	assert.Equal(t, 1, e.Snapshot().LogEntries)

	clk.t = t0.Add(30 * time.Minute)
	e.tick()
	assert.Equal(t, 2, e.Snapshot().LogEntries)
	assert.Len(t, arch.recs, 2)
}

func TestEngine_AlertSetStaysBounded(t *testing.T) {
	clk := &clock{t: t0}
	pairs := make([]messages.SamplePair, 10)
	for i := range pairs {
		pairs[i] = pairAt(t0, 8, 8)
	}
	e, _, _ := newTestEngine(&scriptedSource{pairs: pairs}, clk)
	for range pairs {
		e.tick()
		clk.Advance(3 * time.Second)
		assert.LessOrEqual(t, len(e.Snapshot().Alerts), 5)
	}
	assert.Len(t, e.Snapshot().Alerts, 5)
}

func TestEngine_UsesCurrentThresholds(t *testing.T) {
	clk := &clock{t: t0}
	th := &mutableThresholds{th: entities.DefaultThresholds()}
	e := NewEngine(Config{Logger: quietLogger(), Now: clk.Now, Location: time.UTC},
		Deps{Source: &scriptedSource{pairs: []messages.SamplePair{pairAt(t0, 7.5, 6), pairAt(t0, 7.5, 6)}}, Thresholds: th})

	e.tick()
	assert.Len(t, e.Snapshot().Raised, 1)

	th.mu.Lock()
	th.th = entities.ThresholdConfig{Min: 4, Max: 8}
	th.mu.Unlock()
	clk.Advance(3 * time.Second)
	e.tick()
	assert.Empty(t, e.Snapshot().Raised)
	assert.Equal(t, 8.0, e.Snapshot().Thresholds.Max)
}

func runEngine(t *testing.T, e *Engine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	select {
	case <-e.Started():
	case <-time.After(time.Second):
		t.Fatal("engine did not start")
	}
	return cancel
}

func TestEngine_IngestAndDismissThroughMailbox(t *testing.T) {
	clk := &clock{t: t0}
	e, arch, _ := newTestEngine(nil, clk)
	cancel := runEngine(t, e)
	defer cancel()

	ctx := context.Background()
	res, err := e.Ingest(ctx, pairAt(t0, 7.5, 6.0), "ESP32_01")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, entities.DefaultThresholds(), res.Thresholds)
	assert.True(t, res.Logged)

	arch.mu.Lock()
	require.Len(t, arch.recs, 1)
	assert.Equal(t, "ESP32_01", arch.recs[0].DeviceID)
	assert.Equal(t, messages.SourceIngest, arch.recs[0].Source)
	arch.mu.Unlock()

	ok, err := e.Dismiss(ctx, res.Alerts[0].Key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, e.Snapshot().Alerts)

	ok, err = e.Dismiss(ctx, res.Alerts[0].Key)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := e.Logsheet(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_StoppedRejectsCalls(t *testing.T) {
	clk := &clock{t: t0}
	e, _, _ := newTestEngine(nil, clk)

	_, err := e.Ingest(context.Background(), pairAt(t0, 5, 5), "")
	assert.ErrorIs(t, err, ErrStopped)

	cancel := runEngine(t, e)
	cancel()
	<-e.Done()

	_, err = e.Dismiss(context.Background(), messages.AlertKey{})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Error(t, e.Run(context.Background()))
}

func TestEngine_RepublishesOnThresholdUpdate(t *testing.T) {
	clk := &clock{t: t0}
	updates := make(chan entities.ThresholdConfig, 1)
	sink := &recordingSink{}
	e := NewEngine(Config{Logger: quietLogger(), Now: clk.Now, Location: time.UTC},
		Deps{Updates: updates, Sinks: []Sink{sink}})
	cancel := runEngine(t, e)
	defer cancel()

	updates <- entities.ThresholdConfig{Min: 4, Max: 8}
	require.Eventually(t, func() bool {
		return e.Snapshot().Thresholds.Max == 8
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SeedHistory(t *testing.T) {
	clk := &clock{t: t0}
	e, _, _ := newTestEngine(&scriptedSource{pairs: []messages.SamplePair{pairAt(t0, 5, 5)}}, clk)
	var hist []messages.LogEntry
	for i := 48; i >= 1; i-- {
		hist = append(hist, messages.LogEntry{Timestamp: t0.Add(-time.Duration(i) * 30 * time.Minute)})
	}
	e.Seed([]messages.TrendPoint{{Label: "07:55", Silo1Moisture: 5.5}}, hist)

	snap := e.Snapshot()
	assert.Equal(t, 48, snap.LogEntries)
	assert.Equal(t, "07:55", snap.Trend[11].Label)

	e.tick()
	assert.Equal(t, 49, e.Snapshot().LogEntries)
}

func TestMQTTSink_PublishesAlertsAndSnapshot(t *testing.T) {
	client := rabbitmqtest.NewClient()
	sink := NewMQTTSink(
		rabbitmq.NewPublisher(client, TopicSnapshot),
		rabbitmq.NewPublisher(client, TopicAlerts, rabbitmq.WithQoS(1)),
		1, nil)

	a := messages.Alert{Key: messages.AlertKey{SiloID: 1, Kind: messages.AlertHigh, Seq: 1}, SiloID: 1, Kind: messages.AlertHigh}
	sink.Publish(messages.Snapshot{Seq: 1, Raised: []messages.Alert{a}})
	// outbox holds one; the second replaces it but keeps the alert
	sink.Publish(messages.Snapshot{Seq: 2})

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return len(client.Published()) == 2 }, time.Second, 5*time.Millisecond)
	pub := client.Published()
	assert.Equal(t, TopicAlerts, pub[0].Topic)
	assert.Contains(t, string(pub[0].Payload), `"id":"1-high-1"`)
	assert.Equal(t, TopicSnapshot, pub[1].Topic)
	assert.Contains(t, string(pub[1].Payload), `"seq":2`)
}

func TestHealthServer_FollowsEngine(t *testing.T) {
	clk := &clock{t: t0}
	e, _, _ := newTestEngine(nil, clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hs := NewHealthServer(ctx, e)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	stop := runEngine(t, e)
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, 5*time.Millisecond)

	stop()
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, 5*time.Millisecond)
}

type archivedRows struct {
	rows []messages.LogEntry
	err  error
}

func (a archivedRows) Range(_ context.Context, from, to time.Time) ([]messages.LogEntry, error) {
	if a.err != nil {
		return nil, a.err
	}
	var out []messages.LogEntry
	for _, r := range a.rows {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestEngine_RestartKeepsSpacingFromArchive(t *testing.T) {
	restart := t0.Add(5 * time.Minute)
	clk := &clock{t: restart}
	src := &scriptedSource{pairs: []messages.SamplePair{pairAt(t0, 5, 6), pairAt(t0, 5, 6), pairAt(t0, 5, 6)}}
	e, arch, _ := newTestEngine(src, clk)

	var synthetic []messages.LogEntry
	for i := 48; i >= 1; i-- {
		synthetic = append(synthetic, messages.LogEntry{Timestamp: restart.Add(-time.Duration(i) * 30 * time.Minute)})
	}
	seed, err := RecoverHistory(context.Background(), archivedRows{rows: []messages.LogEntry{{Timestamp: t0}}}, synthetic, restart, 30*time.Minute)
	require.NoError(t, err)
	e.Seed(nil, seed)

	e.tick()
	assert.Empty(t, arch.recs, "a row was written 5 minutes after the last archived one")

	clk.Advance(24 * time.Minute)
	e.tick()
	assert.Empty(t, arch.recs)

	clk.Advance(time.Minute)
	e.tick()
	require.Len(t, arch.recs, 1)
	assert.Equal(t, t0.Add(30*time.Minute), arch.recs[0].Timestamp)
}

func TestRecoverHistory_ArchiveErrorKeepsSeed(t *testing.T) {
	seed := []messages.LogEntry{{Timestamp: t0}}
	out, err := RecoverHistory(context.Background(), archivedRows{err: errors.New("influx down")}, seed, t0, 0)
	require.Error(t, err)
	assert.Equal(t, seed, out)
}
