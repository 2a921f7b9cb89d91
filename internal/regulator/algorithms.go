package regulator

// tickHysteresis is plain threshold-gated switching with a dead band of
// hysteresisC on each side. Upper channel is evaluated before lower in the
// same tick.
func (r *Regulator) tickHysteresis(t float64) {
	r.mu.Lock()
	s := r.settings
	r.mu.Unlock()

	r.evalUpperHysteresis(t, s)
	r.evalLowerHysteresis(t, s)
}

func (r *Regulator) evalUpperHysteresis(t float64, s Settings) {
	on := r.upper.GetState()
	switch {
	case !on && t >= s.MaxC:
		if r.turnOnExclusive(r.upper, r.lower) {
			r.onUpperTurnedOn(t)
		}
	case on && t < s.MaxC-s.HysteresisC:
		if r.turnOffChannel(r.upper) {
			r.log.Info("upper OFF (hysteresis)", "t", t)
		}
	}
}

func (r *Regulator) evalLowerHysteresis(t float64, s Settings) {
	on := r.lower.GetState()
	switch {
	case !on && t < s.MinC:
		if r.turnOnExclusive(r.lower, r.upper) {
			r.onLowerTurnedOn(t)
		}
	case on && t > s.MinC+s.HysteresisC:
		if r.turnOffChannel(r.lower) {
			r.log.Info("lower OFF (hysteresis)", "t", t)
		}
	}
}

// tickPredictive is hysteresis augmented with a slope-gated pre-actuation
// window. Rationale: hysteresis alone overshoots
// systems with long dead-time; slope-gating tightens the band while the
// "reversal + excursion" gate on OFF prevents switching off before the
// process has actually turned around.
func (r *Regulator) tickPredictive(t float64) {
	r.mu.Lock()
	s := r.settings
	p := r.pred
	r.mu.Unlock()

	now := r.clock()
	slope := r.slope(now, t, p.WindowSeconds)
	predicted := t + slope*p.LookAheadSeconds

	r.evalUpperPredictive(t, predicted, slope, s, p)
	r.evalLowerPredictive(t, predicted, slope, s, p)
}

func (r *Regulator) evalUpperPredictive(t, predicted, slope float64, s Settings, p PredictiveParams) {
	on := r.upper.GetState()
	if !on {
		hysteresisTrigger := t >= s.MaxC
		preActuateTrigger := slope > p.MinRateCPerSec && predicted >= s.MaxC-p.PreOnMarginC
		if hysteresisTrigger || preActuateTrigger {
			if r.turnOnExclusive(r.upper, r.lower) {
				r.onUpperTurnedOn(t)
				r.log.Info("upper ON (predictive)", "t", t, "predicted", predicted, "slope", slope)
			}
		}
		return
	}

	r.mu.Lock()
	if r.upperMinSinceOn == nil || t < *r.upperMinSinceOn {
		v := t
		r.upperMinSinceOn = &v
	}
	minSinceOn := *r.upperMinSinceOn
	r.mu.Unlock()

	hysteresisOff := t < s.MaxC-s.HysteresisC
	reversalOff := slope >= p.ReverseRateCPerSec && t >= minSinceOn+p.ReverseMarginC && t <= s.MaxC-p.PreOffMarginC
	if hysteresisOff || reversalOff {
		if r.turnOffChannel(r.upper) {
			r.log.Info("upper OFF (predictive)", "t", t, "slope", slope)
			r.mu.Lock()
			r.upperMinSinceOn = nil
			r.mu.Unlock()
		}
	}
}

func (r *Regulator) evalLowerPredictive(t, predicted, slope float64, s Settings, p PredictiveParams) {
	on := r.lower.GetState()
	if !on {
		hysteresisTrigger := t < s.MinC
		preActuateTrigger := slope < -p.MinRateCPerSec && predicted <= s.MinC+p.PreOnMarginC
		if hysteresisTrigger || preActuateTrigger {
			if r.turnOnExclusive(r.lower, r.upper) {
				r.onLowerTurnedOn(t)
				r.log.Info("lower ON (predictive)", "t", t, "predicted", predicted, "slope", slope)
			}
		}
		return
	}

	r.mu.Lock()
	if r.lowerMaxSinceOn == nil || t > *r.lowerMaxSinceOn {
		v := t
		r.lowerMaxSinceOn = &v
	}
	maxSinceOn := *r.lowerMaxSinceOn
	r.mu.Unlock()

	hysteresisOff := t > s.MinC+s.HysteresisC
	reversalOff := slope <= -p.ReverseRateCPerSec && t <= maxSinceOn-p.ReverseMarginC && t >= s.MinC+p.PreOffMarginC
	if hysteresisOff || reversalOff {
		if r.turnOffChannel(r.lower) {
			r.log.Info("lower OFF (predictive)", "t", t, "slope", slope)
			r.mu.Lock()
			r.lowerMaxSinceOn = nil
			r.mu.Unlock()
		}
	}
}

func (r *Regulator) onUpperTurnedOn(t float64) {
	r.mu.Lock()
	v := t
	r.upperMinSinceOn = &v
	r.upperCycles++
	r.mu.Unlock()
	r.log.Info("upper ON", "t", t)
}

func (r *Regulator) onLowerTurnedOn(t float64) {
	r.mu.Lock()
	v := t
	r.lowerMaxSinceOn = &v
	r.lowerCycles++
	r.mu.Unlock()
	r.log.Info("lower ON", "t", t)
}
