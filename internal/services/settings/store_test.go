package settings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq/rabbitmqtest"
)

var t0 = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newStore(repo Repository, n Notifier) *Store {
	now := t0
	var mu sync.Mutex
	return NewStore(repo, Options{
		Logger:   quiet(),
		Notifier: n,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		},
		BreakerFailures: 2,
		BreakerOpenFor:  time.Minute,
	})
}

func TestStore_DefaultsWhenEmpty(t *testing.T) {
	s := newStore(NewMemoryRepository(), nil)
	assert.Equal(t, entities.DefaultThresholds(), s.Load(context.Background()))
	assert.Equal(t, entities.DefaultThresholds(), s.Current())
	assert.Empty(t, s.Record().ID)
}

func TestStore_LoadFailsOpen(t *testing.T) {
	repo := NewMemoryRepository()
	repo.LatestErr = errors.New("connection refused")
	s := newStore(repo, nil)
	assert.Equal(t, entities.DefaultThresholds(), s.Load(context.Background()))
}

func TestStore_LoadRejectsMalformedRow(t *testing.T) {
	repo := NewMemoryRepository(entities.SettingsRecord{ID: "x", MinMoisture: 9, MaxMoisture: 2, CreatedAt: t0})
	s := newStore(repo, nil)
	assert.Equal(t, entities.DefaultThresholds(), s.Load(context.Background()))
}

func TestStore_LoadPicksLatestRow(t *testing.T) {
	repo := NewMemoryRepository(
		entities.SettingsRecord{ID: "old", MinMoisture: 3, MaxMoisture: 6, CreatedAt: t0},
		entities.SettingsRecord{ID: "new", MinMoisture: 4, MaxMoisture: 8, CreatedAt: t0.Add(time.Hour)},
	)
	s := newStore(repo, nil)
	assert.Equal(t, entities.ThresholdConfig{Min: 4, Max: 8}, s.Load(context.Background()))
	assert.Equal(t, "new", s.Record().ID)
}

func TestStore_UpdateRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	s := newStore(repo, nil)

	cfg, err := s.Update(context.Background(), 4.0, 8.0)
	require.NoError(t, err)
	assert.Equal(t, entities.ThresholdConfig{Min: 4, Max: 8}, cfg)
	assert.Equal(t, cfg, s.Current())
	assert.Equal(t, 1, repo.Len())
	assert.NotEmpty(t, s.Record().ID)
}

func TestStore_ConcurrentUpdateAndCurrent(t *testing.T) {
	repo := NewMemoryRepository()
	s := newStore(repo, nil)

	committed := map[entities.ThresholdConfig]bool{entities.DefaultThresholds(): true}
	var bands []entities.ThresholdConfig
	for i := 0; i < 8; i++ {
		b := entities.ThresholdConfig{Min: 1 + float64(i)*0.5, Max: 10 + float64(i)*0.5}
		bands = append(bands, b)
		committed[b] = true
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	seen := make(chan entities.ThresholdConfig, 1024)
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cur := s.Current()
				if !committed[cur] {
					select {
					case seen <- cur:
					default:
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for _, b := range bands {
		b := b
		writers.Add(1)
		go func() {
			defer writers.Done()
			_, err := s.Update(context.Background(), b.Min, b.Max)
			assert.NoError(t, err)
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()
	close(seen)

	for cur := range seen {
		t.Errorf("observed a band that was never committed: %+v", cur)
	}
	final := s.Current()
	assert.Contains(t, bands, final)
	assert.Equal(t, s.Record().Thresholds(), final)
	assert.Equal(t, len(bands), repo.Len())
}

func TestStore_UpdateValidation(t *testing.T) {
	s := newStore(NewMemoryRepository(), nil)
	for _, tc := range [][2]float64{{7, 7}, {8, 4}, {-1, 5}, {2, 16}} {
		_, err := s.Update(context.Background(), tc[0], tc[1])
		require.Error(t, err, "%v", tc)
		assert.True(t, entities.IsValidation(err))
		assert.Equal(t, entities.DefaultThresholds(), s.Current())
	}
}

func TestStore_UpdatePersistenceFailureKeepsCurrent(t *testing.T) {
	repo := NewMemoryRepository()
	s := newStore(repo, nil)
	_, err := s.Update(context.Background(), 4, 8)
	require.NoError(t, err)

	repo.SetErrors(errors.New("disk full"), nil)
	_, err = s.Update(context.Background(), 3, 9)
	require.Error(t, err)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "save", pe.Op)
	assert.Equal(t, entities.ThresholdConfig{Min: 4, Max: 8}, s.Current())
}

func TestStore_BreakerOpensAfterFailures(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SaveErr = errors.New("timeout")
	s := newStore(repo, nil)

	for i := 0; i < 2; i++ {
		_, err := s.Update(context.Background(), 4, 8)
		require.True(t, IsPersistence(err))
	}
	repo.SetErrors(nil, nil)
	_, err := s.Update(context.Background(), 4, 8)
	require.True(t, IsPersistence(err), "breaker should still be open")
	assert.Equal(t, 0, repo.Len())
}

func TestStore_EmptyRepositoryDoesNotTripBreaker(t *testing.T) {
	s := newStore(NewMemoryRepository(), nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Refresh(context.Background()))
	}
	_, err := s.Update(context.Background(), 4, 8)
	assert.NoError(t, err)
}

func TestStore_SubscribeGetsCurrentThenUpdates(t *testing.T) {
	s := newStore(NewMemoryRepository(), nil)
	_, err := s.Update(context.Background(), 4, 8)
	require.NoError(t, err)

	ch, cancel := s.Subscribe()
	defer cancel()
	assert.Equal(t, entities.ThresholdConfig{Min: 4, Max: 8}, <-ch)

	// a slow subscriber only sees the latest
	_, err = s.Update(context.Background(), 3, 9)
	require.NoError(t, err)
	_, err = s.Update(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, entities.ThresholdConfig{Min: 5, Max: 10}, <-ch)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestStore_ApplyOrdering(t *testing.T) {
	s := newStore(NewMemoryRepository(), nil)
	newer := entities.SettingsRecord{ID: "b", MinMoisture: 4, MaxMoisture: 9, CreatedAt: t0.Add(time.Hour)}
	older := entities.SettingsRecord{ID: "a", MinMoisture: 3, MaxMoisture: 6, CreatedAt: t0}

	require.NoError(t, s.Apply(newer))
	assert.ErrorIs(t, s.Apply(older), ErrStaleSettings)
	assert.NoError(t, s.Apply(newer))
	assert.Equal(t, "b", s.Record().ID)

	bad := entities.SettingsRecord{ID: "c", MinMoisture: 9, MaxMoisture: 1, CreatedAt: t0.Add(2 * time.Hour)}
	assert.True(t, entities.IsValidation(s.Apply(bad)))
	assert.Equal(t, entities.ThresholdConfig{Min: 4, Max: 9}, s.Current())
}

func TestStore_RefreshPicksUpExternalChange(t *testing.T) {
	repo := NewMemoryRepository()
	s := newStore(repo, nil)
	s.Load(context.Background())

	require.NoError(t, repo.Save(context.Background(),
		entities.SettingsRecord{ID: "other-operator", MinMoisture: 5, MaxMoisture: 6.5, CreatedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, entities.ThresholdConfig{Min: 5, Max: 6.5}, s.Current())

	repo.SetErrors(nil, errors.New("unreachable"))
	err := s.Refresh(context.Background())
	assert.True(t, IsPersistence(err))
	assert.Equal(t, entities.ThresholdConfig{Min: 5, Max: 6.5}, s.Current())
}

func TestMQTT_LiveUpdateBetweenInstances(t *testing.T) {
	broker := rabbitmqtest.NewClient()
	repo := NewMemoryRepository()

	a := newStore(repo, NewMQTTNotifier(broker))
	b := newStore(repo, nil)
	broker.Subscribe(TopicSettings, 1, func(_ mqtt.Client, m mqtt.Message) {
		_ = NewUpdateHandler(b, dedup.New(time.Minute, 100))(m.Topic(), m)
	})

	ch, cancel := b.Subscribe()
	defer cancel()
	<-ch

	_, err := a.Update(context.Background(), 4.2, 7.7)
	require.NoError(t, err)

	assert.Equal(t, entities.ThresholdConfig{Min: 4.2, Max: 7.7}, <-ch)
	assert.Equal(t, a.Record().ID, b.Record().ID)

	pub := broker.Published()
	require.Len(t, pub, 1)
	assert.True(t, pub[0].Retained)
	assert.Equal(t, byte(1), pub[0].QoS)
}

func TestUpdateHandler_RejectsAndDedups(t *testing.T) {
	s := newStore(NewMemoryRepository(), nil)
	h := NewUpdateHandler(s, dedup.New(time.Minute, 100))

	err := h(TopicSettings, &rabbitmqtest.Message{TopicName: TopicSettings, Body: []byte(`{"min_moisture":`)})
	assert.Error(t, err)

	err = h(TopicSettings, &rabbitmqtest.Message{TopicName: TopicSettings, Body: []byte(`{"min_moisture":1,"max_moisture":2}`)})
	assert.Error(t, err, "missing id")

	rec := entities.SettingsRecord{ID: "r1", MinMoisture: 9, MaxMoisture: 20, CreatedAt: t0}
	body, _ := json.Marshal(rec)
	err = h(TopicSettings, &rabbitmqtest.Message{TopicName: TopicSettings, Body: body})
	assert.True(t, entities.IsValidation(err))
	assert.Equal(t, entities.DefaultThresholds(), s.Current())

	rec = entities.SettingsRecord{ID: "r2", MinMoisture: 4, MaxMoisture: 8, CreatedAt: t0}
	body, _ = json.Marshal(rec)
	require.NoError(t, h(TopicSettings, &rabbitmqtest.Message{TopicName: TopicSettings, Body: body}))
	// a redelivery of the same payload is dropped before Apply
	require.NoError(t, h(TopicSettings, &rabbitmqtest.Message{TopicName: TopicSettings, Body: body, Dup: true}))
	assert.Equal(t, "r2", s.Record().ID)
}
