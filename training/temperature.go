package training

import (
	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
)

const (
	TemperatureConstant    = "constant"
	TemperatureLinear      = "linear"
	TemperatureExponential = "exponential"
)

var temperatureNames = []string{TemperatureConstant, TemperatureLinear, TemperatureExponential}

// TemperatureSchedule anneals the relaxation temperature over the outer
// epochs: constant holds it, linear decays it to 0, exponential decays
// it by a factor of 10 across the run.
type TemperatureSchedule struct {
	Schedule string
	Initial  float32
}

func (s *TemperatureSchedule) Validate() error {
	if s.Schedule == "" {
		s.Schedule = TemperatureConstant
	}
	switch s.Schedule {
	case TemperatureConstant, TemperatureLinear, TemperatureExponential:
	default:
		return &oslow.ConfigurationError{Field: "temperature_scheduler", Reason: "unknown name " + s.Schedule, Valid: temperatureNames}
	}
	if s.Initial <= 0.0 {
		return oslow.NewConfigurationError("temperature", "must be positive, got %v", s.Initial)
	}
	return nil
}

// At returns the temperature for the given outer epoch out of
// trueEpochs total. A single-epoch run uses the initial temperature.
func (s *TemperatureSchedule) At(epoch, trueEpochs int) float32 {
	if s.Schedule == TemperatureConstant || trueEpochs <= 1 {
		return s.Initial
	}
	frac := float32(epoch) / float32(trueEpochs-1)
	switch s.Schedule {
	case TemperatureLinear:
		return s.Initial * (1.0 - frac)
	case TemperatureExponential:
		return s.Initial * math32.Pow(0.1, frac)
	}
	return s.Initial
}
