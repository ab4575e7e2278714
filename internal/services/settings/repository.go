package settings

import (
	"context"
	"sync"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
)

// Repository persists configuration rows. Latest returns ErrNoSettings when empty.
type Repository interface {
	Latest(ctx context.Context) (entities.SettingsRecord, error)
	Save(ctx context.Context, rec entities.SettingsRecord) error
}

// MemoryRepository keeps rows in process. Used when no Influx endpoint is configured.
type MemoryRepository struct {
	mu      sync.Mutex
	records []entities.SettingsRecord

	// injected failures (tests)
	SaveErr   error
	LatestErr error
}

func NewMemoryRepository(seed ...entities.SettingsRecord) *MemoryRepository {
	return &MemoryRepository{records: append([]entities.SettingsRecord(nil), seed...)}
}

func (m *MemoryRepository) Latest(_ context.Context) (entities.SettingsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LatestErr != nil {
		return entities.SettingsRecord{}, m.LatestErr
	}
	if len(m.records) == 0 {
		return entities.SettingsRecord{}, ErrNoSettings
	}
	latest := m.records[0]
	for _, r := range m.records[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}

func (m *MemoryRepository) Save(_ context.Context, rec entities.SettingsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryRepository) SetErrors(save, latest error) {
	m.mu.Lock()
	m.SaveErr, m.LatestErr = save, latest
	m.mu.Unlock()
}
