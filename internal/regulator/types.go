package regulator

import (
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/mode"
)

// Settings is the regulator's working copy of the temperature band:
// 0 ≤ MinC < MaxC ≤ 100, HysteresisC = MaxC - MinC.
type Settings struct {
	MinC        float64
	MaxC        float64
	HysteresisC float64
}

// RunState is the regulator's observational state machine. Error is
// reached on an unrecoverable tick condition but the loop keeps running —
// it is never terminal.
type RunState string

const (
	StateStopped RunState = "Stopped"
	StateRunning RunState = "Running"
	StateError   RunState = "Error"
)

// State is a point-in-time snapshot of the regulator's runtime state.
type State struct {
	UpperOn          bool
	LowerOn          bool
	LastUpperSwitch  time.Time
	LastLowerSwitch  time.Time
	UpperMinSinceOn  *float64
	LowerMaxSinceOn  *float64
	UpperCycles      uint64
	LowerCycles      uint64
	Algorithm        mode.Mode
	LastSlopeCPerS   *float64
	RunState         RunState
}

// PredictiveParams tunes the slope-based algorithm.
type PredictiveParams struct {
	WindowSeconds      float64
	LookAheadSeconds   float64
	MinRateCPerSec     float64
	PreOnMarginC       float64
	PreOffMarginC      float64
	ReverseRateCPerSec float64
	ReverseMarginC     float64
}

// DefaultPredictiveParams returns the factory-tuned defaults.
func DefaultPredictiveParams() PredictiveParams {
	return PredictiveParams{
		WindowSeconds:      5,
		LookAheadSeconds:   5,
		MinRateCPerSec:     0.05,
		PreOnMarginC:       0.5,
		PreOffMarginC:      0.5,
		ReverseRateCPerSec: 0.02,
		ReverseMarginC:     0.10,
	}
}

type sample struct {
	at time.Time
	t  float64
}

const sampleWindowCap = 10 * time.Minute
