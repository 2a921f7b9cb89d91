// Package reading defines the TemperatureReading value published by
// TempPoller into DataStore and consumed by Regulator and RollingLog.
package reading

import "time"

// Source identifies where a reading came from.
type Source string

const (
	SourceMiner    Source = "miner"
	SourceExternal Source = "external"
)

// Status is derived from liquid_c: Normal <55, Warning <60, else Critical;
// Unknown/Error are used when no value is available.
type Status string

const (
	StatusNormal   Status = "Normal"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
	StatusUnknown  Status = "Unknown"
	StatusError    Status = "Error"
)

// TemperatureReading is one sample from the coolant loop. Invariant: if
// Status is StatusError, Error is non-empty and LiquidC is nil.
type TemperatureReading struct {
	LiquidC    *float64
	PSUC       *float64
	FanRPM     *uint32
	Source     Source
	CapturedAt time.Time
	Status     Status
	Error      string
}

// DeriveStatus classifies a liquid temperature into a status band.
func DeriveStatus(liquidC float64) Status {
	switch {
	case liquidC < 55:
		return StatusNormal
	case liquidC < 60:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// NewSuccess builds a reading with status derived from liquidC.
func NewSuccess(liquidC float64, psuC *float64, fanRPM *uint32, source Source, capturedAt time.Time) TemperatureReading {
	lc := liquidC
	return TemperatureReading{
		LiquidC:    &lc,
		PSUC:       psuC,
		FanRPM:     fanRPM,
		Source:     source,
		CapturedAt: capturedAt,
		Status:     DeriveStatus(liquidC),
	}
}

// NewError builds an error reading: LiquidC absent, Status=Error, Error
// non-empty.
func NewError(source Source, capturedAt time.Time, errMsg string) TemperatureReading {
	return TemperatureReading{
		Source:     source,
		CapturedAt: capturedAt,
		Status:     StatusError,
		Error:      errMsg,
	}
}
