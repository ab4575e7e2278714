package monitor

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/silo_monitor/internal/metrics"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// ErrStopped is returned by mailbox calls when the engine loop is not running.
var ErrStopped = errors.New("monitor engine is not running")

// SampleSource produces one pair of samples per tick.
type SampleSource interface {
	Next(now time.Time) (messages.SamplePair, error)
}

// ThresholdSource exposes the committed moisture band.
type ThresholdSource interface {
	Current() entities.ThresholdConfig
}

// Archive receives gated log entries. Enqueue must not block.
type Archive interface {
	Enqueue(rec messages.LogRecord)
}

// HistorySource returns durable logsheet rows.
type HistorySource interface {
	Range(ctx context.Context, from, to time.Time) ([]messages.LogEntry, error)
}

// RecoverHistory adds the archived rows of the last interval to seed. Seeding the
// engine with the result makes the first gated write after a restart keep its
// spacing from the last durable row. On error seed is returned unchanged.
func RecoverHistory(ctx context.Context, src HistorySource, seed []messages.LogEntry, now time.Time, interval time.Duration) ([]messages.LogEntry, error) {
	if interval <= 0 {
		interval = DefaultLogInterval
	}
	recent, err := src.Range(ctx, now.Add(-interval), now)
	if err != nil {
		return seed, err
	}
	return MergeHistory(seed, recent, interval), nil
}

// Sink receives every published snapshot. Publish must not block.
type Sink interface {
	Publish(s messages.Snapshot)
}

type Config struct {
	TickInterval  time.Duration
	TrendSize     int
	LogInterval   time.Duration
	AlertCapacity int
	Location      *time.Location
	Logger        *log.Logger
	Now           func() time.Time
}

func (c *Config) withDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 3 * time.Second
	}
	if c.TrendSize <= 0 {
		c.TrendSize = 12
	}
	if c.LogInterval <= 0 {
		c.LogInterval = DefaultLogInterval
	}
	if c.AlertCapacity <= 0 {
		c.AlertCapacity = DefaultAlertCapacity
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type Deps struct {
	// Source drives ticks. Nil means ingest-only: the ticker is not started.
	Source     SampleSource
	Thresholds ThresholdSource
	// Updates, if set, triggers a snapshot republish whenever thresholds change.
	Updates <-chan entities.ThresholdConfig
	Archive Archive
	Sinks   []Sink
	Metrics *metrics.Metrics
}

// IngestResult is the engine's reply to an ingested pair.
type IngestResult struct {
	Alerts     []messages.Alert
	Thresholds entities.ThresholdConfig
	Logged     bool
	Snapshot   messages.Snapshot
}

type ingestMsg struct {
	pair     messages.SamplePair
	deviceID string
	reply    chan IngestResult
}

type dismissMsg struct {
	key   messages.AlertKey
	reply chan bool
}

type logQueryMsg struct {
	from, to time.Time
	all      bool
	reply    chan []messages.LogEntry
}

// Engine is the single owner of the trend window, the logsheet and the
// alert set. All mutation happens on the Run goroutine.
type Engine struct {
	cfg  Config
	deps Deps

	trend  *TrendBuffer
	logs   *LogStore
	alerts *AlertEngine

	latest   *messages.SamplePair
	seq      uint64
	snapshot atomic.Pointer[messages.Snapshot]

	mailbox chan any
	state   atomic.Int32
	started chan struct{}
	done    chan struct{}
}

func NewEngine(cfg Config, deps Deps) *Engine {
	cfg.withDefaults()
	if deps.Thresholds == nil {
		deps.Thresholds = staticThresholds(entities.DefaultThresholds())
	}
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		trend:   NewTrendBuffer(cfg.TrendSize, cfg.Location),
		logs:    NewLogStore(cfg.LogInterval),
		alerts:  NewAlertEngine(cfg.AlertCapacity),
		mailbox: make(chan any, 32),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.store(e.build(deps.Thresholds.Current(), nil))
	return e
}

// Seed loads synthetic or recovered history. It must be called before Run.
func (e *Engine) Seed(trend []messages.TrendPoint, logEntries []messages.LogEntry) {
	if e.state.Load() != stateIdle {
		e.cfg.Logger.Printf("engine: seed ignored, loop already started")
		return
	}
	if len(trend) > 0 {
		e.trend.Seed(trend)
	}
	if len(logEntries) > 0 {
		kept := e.logs.Seed(logEntries)
		e.cfg.Logger.Printf("engine: seeded %d log entries", kept)
	}
	e.store(e.build(e.deps.Thresholds.Current(), nil))
}

// Run owns the loop until ctx is cancelled. It returns an error if called twice.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateIdle, stateRunning) {
		return errors.New("monitor engine already started")
	}
	defer close(e.done)
	defer e.state.Store(stateStopped)
	close(e.started)

	var tickC <-chan time.Time
	if e.deps.Source != nil {
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}
	e.cfg.Logger.Printf("engine: running (tick=%s simulate=%t)", e.cfg.TickInterval, e.deps.Source != nil)

	for {
		select {
		case <-ctx.Done():
			e.cfg.Logger.Printf("engine: stopped")
			return nil
		case <-tickC:
			e.tick()
		case th, ok := <-e.deps.Updates:
			if !ok {
				e.deps.Updates = nil
				continue
			}
			e.publish(e.build(th, nil))
		case m := <-e.mailbox:
			e.handle(m)
		}
	}
}

func (e *Engine) handle(m any) {
	switch msg := m.(type) {
	case ingestMsg:
		msg.reply <- e.apply(msg.pair, messages.SourceIngest, msg.deviceID)
	case dismissMsg:
		ok := e.alerts.Dismiss(msg.key)
		if ok {
			e.publish(e.build(e.deps.Thresholds.Current(), nil))
		}
		msg.reply <- ok
	case logQueryMsg:
		if msg.all {
			msg.reply <- e.logs.Entries()
			return
		}
		msg.reply <- e.logs.Range(msg.from, msg.to)
	default:
		e.cfg.Logger.Printf("engine: unknown message %T", m)
	}
}

// tick draws a pair from the source and applies it. A generation error skips the tick.
func (e *Engine) tick() {
	pair, err := e.deps.Source.Next(e.cfg.Now())
	if err != nil {
		e.cfg.Logger.Printf("engine: sample generation failed, skipping tick: %v", err)
		return
	}
	e.apply(pair, messages.SourceTick, "")
	e.deps.Metrics.Tick()
}

// apply runs trend, then logsheet, then alerts, then publishes.
func (e *Engine) apply(pair messages.SamplePair, source, deviceID string) IngestResult {
	th := e.deps.Thresholds.Current()

	e.trend.Append(pair)

	entry, logged := e.logs.MaybeAppend(pair, pair.Timestamp())
	if logged && e.deps.Archive != nil {
		e.deps.Archive.Enqueue(messages.LogRecord{
			ID:       uuid.NewString(),
			DeviceID: deviceID,
			Source:   source,
			LogEntry: entry,
		})
	}

	var raised []messages.Alert
	for _, s := range pair.Samples() {
		if a, ok := e.alerts.Evaluate(s, th); ok {
			raised = append(raised, a)
			e.cfg.Logger.Printf("engine: %s alert silo=%d value=%.2f band=[%.2f, %.2f]", a.Kind, a.SiloID, a.Value, th.Min, th.Max)
		}
	}

	p := pair
	e.latest = &p
	snap := e.build(th, raised)
	e.publish(snap)

	return IngestResult{Alerts: raised, Thresholds: th, Logged: logged, Snapshot: snap}
}

func (e *Engine) build(th entities.ThresholdConfig, raised []messages.Alert) messages.Snapshot {
	e.seq++
	s := messages.Snapshot{
		Seq:         e.seq,
		Trend:       e.trend.Snapshot(),
		Alerts:      e.alerts.Outstanding(),
		Raised:      raised,
		Thresholds:  th,
		LogEntries:  e.logs.Len(),
		LastLogTime: e.logs.LastLogTime(),
		UpdatedAt:   e.cfg.Now(),
	}
	if e.latest != nil {
		for _, smp := range e.latest.Samples() {
			s.Silos = append(s.Silos, messages.SiloReading{
				SiloID:            smp.SiloID,
				Moisture:          smp.Moisture,
				Temperature:       smp.Temperature,
				MoistureStatus:    th.MoistureStatus(smp.Moisture),
				TemperatureStatus: entities.TemperatureStatus(smp.Temperature),
				LastUpdated:       smp.Timestamp,
			})
		}
	}
	return s
}

func (e *Engine) store(s messages.Snapshot) {
	e.snapshot.Store(&s)
}

func (e *Engine) publish(s messages.Snapshot) {
	e.store(s)
	e.deps.Metrics.Publish(s)
	for _, sink := range e.deps.Sinks {
		sink.Publish(s)
	}
}

// Snapshot returns the last published state. Safe from any goroutine.
func (e *Engine) Snapshot() messages.Snapshot {
	return *e.snapshot.Load()
}

func (e *Engine) Running() bool { return e.state.Load() == stateRunning }

// Started is closed when Run begins.
func (e *Engine) Started() <-chan struct{} { return e.started }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) send(ctx context.Context, m any) error {
	if !e.Running() {
		return ErrStopped
	}
	select {
	case e.mailbox <- m:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, e *Engine, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Ingest applies a device pair on the engine loop and waits for the outcome.
func (e *Engine) Ingest(ctx context.Context, pair messages.SamplePair, deviceID string) (IngestResult, error) {
	reply := make(chan IngestResult, 1)
	if err := e.send(ctx, ingestMsg{pair: pair, deviceID: deviceID, reply: reply}); err != nil {
		return IngestResult{}, err
	}
	return await(ctx, e, reply)
}

// Dismiss removes an outstanding alert. Unknown keys report false without error.
func (e *Engine) Dismiss(ctx context.Context, key messages.AlertKey) (bool, error) {
	reply := make(chan bool, 1)
	if err := e.send(ctx, dismissMsg{key: key, reply: reply}); err != nil {
		return false, err
	}
	return await(ctx, e, reply)
}

// Logsheet returns in-memory entries with from <= ts <= to. Zero bounds return everything.
func (e *Engine) Logsheet(ctx context.Context, from, to time.Time) ([]messages.LogEntry, error) {
	reply := make(chan []messages.LogEntry, 1)
	msg := logQueryMsg{from: from, to: to, all: from.IsZero() && to.IsZero(), reply: reply}
	if err := e.send(ctx, msg); err != nil {
		return nil, err
	}
	return await(ctx, e, reply)
}

type staticThresholds entities.ThresholdConfig

func (s staticThresholds) Current() entities.ThresholdConfig { return entities.ThresholdConfig(s) }
