package engine

import "github.com/shopspring/decimal"

// FreeSpinsState is owned by the caller's game session and threaded through
// every spin by value. The engine never stores it.
type FreeSpinsState struct {
	Active                bool            `json:"active"`
	Remaining             int             `json:"remaining"`
	AccumulatedMultiplier int             `json:"accumulatedMultiplier"`
	TotalSpins            int             `json:"totalSpins"`
	TotalWon              decimal.Decimal `json:"totalWon"`
}

// TriggerResult reports the outcome of a trigger or retrigger evaluation.
type TriggerResult struct {
	Triggered    bool `json:"triggered"`
	Retrigger    bool `json:"retrigger"`
	SpinsAwarded int  `json:"spinsAwarded"`
	ScatterCount int  `json:"scatterCount"`
}

// EvaluateTrigger checks a base-game grid for the free-spins trigger.
func EvaluateTrigger(grid Grid, cfg FreeSpinsConfig) TriggerResult {
	return EvaluateTriggerCount(grid.Count(Scatter), cfg)
}

// EvaluateTriggerCount applies the trigger rule to a scatter count.
func EvaluateTriggerCount(scatters int, cfg FreeSpinsConfig) TriggerResult {
	tr := TriggerResult{ScatterCount: scatters}
	if scatters >= cfg.TriggerThreshold {
		tr.Triggered = true
		tr.SpinsAwarded = cfg.SpinsAwarded
	}
	return tr
}

// StartFreeSpins returns a fresh session for a trigger. The accumulated
// multiplier resets to 1.
func StartFreeSpins(tr TriggerResult) FreeSpinsState {
	return FreeSpinsState{
		Active:                true,
		Remaining:             tr.SpinsAwarded,
		AccumulatedMultiplier: 1,
		TotalSpins:            tr.SpinsAwarded,
		TotalWon:              decimal.Zero,
	}
}

// EvaluateRetrigger checks a free-spins grid for extra spins. The accumulated
// multiplier is preserved.
func EvaluateRetrigger(grid Grid, state FreeSpinsState, cfg FreeSpinsConfig) (FreeSpinsState, TriggerResult) {
	return EvaluateRetriggerCount(grid.Count(Scatter), state, cfg)
}

// EvaluateRetriggerCount applies the retrigger rule to a scatter count.
func EvaluateRetriggerCount(scatters int, state FreeSpinsState, cfg FreeSpinsConfig) (FreeSpinsState, TriggerResult) {
	tr := TriggerResult{ScatterCount: scatters}
	if !state.Active || scatters < cfg.RetriggerThreshold || cfg.RetriggerSpins == 0 {
		return state, tr
	}
	tr.Triggered = true
	tr.Retrigger = true
	tr.SpinsAwarded = cfg.RetriggerSpins
	state.Remaining += cfg.RetriggerSpins
	state.TotalSpins += cfg.RetriggerSpins
	return state, tr
}

// BuyFeature starts free spins through the regular trigger path with a forced
// scatter count equal to the trigger threshold. It returns the new state and
// the cost to debit; the engine never debits anything itself.
func BuyFeature(cfg FreeSpinsConfig, bet decimal.Decimal, state FreeSpinsState) (FreeSpinsState, decimal.Decimal, TriggerResult, error) {
	if state.Active {
		return state, decimal.Zero, TriggerResult{}, Errorf(CodeInvalidState, "buy feature", "free spins already active with %d remaining", state.Remaining)
	}
	if !bet.IsPositive() {
		return state, decimal.Zero, TriggerResult{}, Errorf(CodeInvalidRequest, "buy feature", "bet %s must be positive", bet)
	}
	tr := EvaluateTriggerCount(cfg.TriggerThreshold, cfg)
	cost := bet.Mul(decimal.NewFromInt(int64(cfg.BuyCostMultiplier)))
	return StartFreeSpins(tr), cost, tr, nil
}
