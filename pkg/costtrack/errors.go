package costtrack

import "fmt"

// BudgetExceededError is returned by TrackUsage when budget enforcement is
// enabled and cumulative cost strictly exceeds the configured ceiling.
//
// This is a hard stop for the scope that triggered it: the calling pipeline
// should abort further paid calls for that scope. The record that crossed the
// ceiling is still appended, so the summary carried here reflects it.
type BudgetExceededError struct {
	// Scope is the budget scope that was exceeded.
	Scope string

	// Ceiling is the configured budget in USD.
	Ceiling float64

	// Summary is the full usage summary at the moment of the breach,
	// including the record that crossed the ceiling.
	Summary UsageSummary
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for scope %q: $%.4f spent of $%.2f ceiling",
		e.Scope, e.Summary.TotalCostUSD, e.Ceiling)
}
