package entities

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  ThresholdConfig
		ok   bool
	}{
		{"default", DefaultThresholds(), true},
		{"full range", ThresholdConfig{Min: 0, Max: 15}, true},
		{"inverted", ThresholdConfig{Min: 7, Max: 4.5}, false},
		{"equal", ThresholdConfig{Min: 5, Max: 5}, false},
		{"negative min", ThresholdConfig{Min: -1, Max: 7}, false},
		{"max above ceiling", ThresholdConfig{Min: 4, Max: 15.5}, false},
		{"nan", ThresholdConfig{Min: math.NaN(), Max: 7}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestThresholdConfig_ValidateMessages(t *testing.T) {
	assert.EqualError(t, ThresholdConfig{Min: 7, Max: 6}.Validate(), "min_moisture must be lower than max_moisture")
	assert.EqualError(t, ThresholdConfig{Min: 1, Max: 20}.Validate(), "moisture thresholds must be between 0% and 15%")
}

func TestStatusClassification(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, StatusDanger, th.MoistureStatus(7.2))
	assert.Equal(t, StatusWarning, th.MoistureStatus(4.0))
	assert.Equal(t, StatusNormal, th.MoistureStatus(6.0))

	assert.Equal(t, StatusWarning, TemperatureStatus(50.5))
	assert.Equal(t, StatusNormal, TemperatureStatus(50))
}

func TestValidationError_Format(t *testing.T) {
	err := &ValidationError{Field: "silo2_temp", Min: -40, Max: 150, Value: 151.5}
	assert.Equal(t, "silo2_temp must be between -40 and 150. Got: 151.5", err.Error())
	assert.True(t, ValidSilo(2))
	assert.False(t, ValidSilo(3))
}
