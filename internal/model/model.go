package model

import (
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	SensorSample    = messages.SensorSample
	SamplePair      = messages.SamplePair
	Reading         = messages.Reading
	LogEntry        = messages.LogEntry
	Alert           = messages.Alert
	Snapshot        = messages.Snapshot
	ThresholdConfig = entities.ThresholdConfig
	SettingsRecord  = entities.SettingsRecord
)

const (
	Silo1 = entities.Silo1
	Silo2 = entities.Silo2
)
