package validator

import "time"

// TimingData is what a client reports about how it played a spin.
type TimingData struct {
	StepDurationsMs []int64 `json:"stepDurationsMs"`
	TotalDurationMs int64   `json:"totalDurationMs"`
	SyncLatencyMs   int64   `json:"syncLatencyMs"`
}

// TimingContext is what the server expected.
type TimingContext struct {
	QuickSpin       bool
	ExpectedSteps   int
	MinStepDuration time.Duration
	MaxSyncLatency  time.Duration
}

// TimingReport splits the timing verdict into its three checks. Valid holds
// only when all of them pass. Suspicion is scored separately by
// DetectTimingFraud.
type TimingReport struct {
	Report
	StepTimingValid     bool `json:"stepTimingValid"`
	SequenceTimingValid bool `json:"sequenceTimingValid"`
	SyncTimingValid     bool `json:"syncTimingValid"`
}

// floor is the shortest step the client could have rendered.
func (v *Validator) floor(tc TimingContext) int64 {
	ms := tc.MinStepDuration.Milliseconds()
	if tc.QuickSpin {
		ms = int64(float64(ms) * v.cfg.Timing.QuickSpinFactor)
	}
	return ms
}

// ValidateTiming checks reported step durations against the expected floor,
// the step count and total against the spin, and the sync latency against
// its limit.
func (v *Validator) ValidateTiming(data TimingData, tc TimingContext) TimingReport {
	out := TimingReport{
		Report:              Report{Valid: true},
		StepTimingValid:     true,
		SequenceTimingValid: true,
		SyncTimingValid:     true,
	}
	floor := v.floor(tc)

	var sum int64
	fast := 0
	for i, d := range data.StepDurationsMs {
		if d < 0 {
			out.StepTimingValid = false
			out.fail("step %d has negative duration", i)
			continue
		}
		sum += d
		if d < floor {
			fast++
		}
	}
	if fast > 0 {
		out.StepTimingValid = false
		out.fail("%d steps faster than %dms", fast, floor)
	}

	if len(data.StepDurationsMs) != tc.ExpectedSteps {
		out.SequenceTimingValid = false
		out.fail("%d step durations reported, %d steps expected", len(data.StepDurationsMs), tc.ExpectedSteps)
	}
	if data.TotalDurationMs > 0 && data.TotalDurationMs < sum {
		out.SequenceTimingValid = false
		out.fail("total duration %dms shorter than the sum of steps %dms", data.TotalDurationMs, sum)
	}

	if data.SyncLatencyMs < 0 {
		out.SyncTimingValid = false
		out.fail("negative sync latency %dms", data.SyncLatencyMs)
	} else if tc.MaxSyncLatency > 0 && data.SyncLatencyMs > tc.MaxSyncLatency.Milliseconds() {
		out.SyncTimingValid = false
		out.fail("sync latency %dms above %dms", data.SyncLatencyMs, tc.MaxSyncLatency.Milliseconds())
	}
	return out
}

// DetectTimingFraud scores timing that suggests a scripted client. Steps
// played faster than the animation floor weigh most.
func (v *Validator) DetectTimingFraud(data TimingData, tc TimingContext) FraudScore {
	sig := newSignals()
	floor := v.floor(tc)

	var sum int64
	fast := 0
	for _, d := range data.StepDurationsMs {
		if d < 0 {
			continue
		}
		sum += d
		if d < floor {
			fast++
		}
	}
	if fast > 0 {
		sig.add(0.3+0.5*float64(fast)/float64(len(data.StepDurationsMs)), "%d of %d steps under the animation floor", fast, len(data.StepDurationsMs))
	}
	if data.TotalDurationMs > 0 && data.TotalDurationMs < sum {
		sig.add(0.4, "total duration shorter than its steps")
	}
	if tc.MaxSyncLatency > 0 && data.SyncLatencyMs > tc.MaxSyncLatency.Milliseconds() {
		sig.add(0.1, "high sync latency")
	}
	return sig.score()
}
