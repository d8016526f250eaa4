package services

import (
	"time"

	"github.com/arbfund/poolpilot/internal/models"
)

// PipelineState is the single object threaded through one cycle. Stages
// receive it by value and return a derived copy; it is never shared across
// concurrent cycles.
type PipelineState struct {
	Pool          *models.PoolSnapshot
	Market        *models.MarketSnapshot
	Opportunities []models.Opportunity
	Decisions     []models.Decision
	Plans         []models.ExecutionPlan
	Results       []models.ExecutionResult
	Errors        []models.StageError
	StartedAt     time.Time
}

// NewPipelineState starts a fresh cycle state.
func NewPipelineState() PipelineState {
	return PipelineState{StartedAt: time.Now()}
}

// WithError returns a copy of the state carrying an additional stage error.
func (s PipelineState) WithError(stage string, err error) PipelineState {
	s.Errors = append(s.Errors, models.StageError{Stage: stage, Message: err.Error()})
	return s
}

// ProceededDecisions returns the decisions that passed risk assessment.
func (s PipelineState) ProceededDecisions() []models.Decision {
	var approved []models.Decision
	for _, d := range s.Decisions {
		if d.Proceeds() {
			approved = append(approved, d)
		}
	}
	return approved
}

// AnyProceeds reports whether at least one decision passed risk assessment.
func (s PipelineState) AnyProceeds() bool {
	for _, d := range s.Decisions {
		if d.Proceeds() {
			return true
		}
	}
	return false
}

// Summary condenses the cycle state into the caller-facing report.
func (s PipelineState) Summary() *models.CycleSummary {
	summary := &models.CycleSummary{
		Opportunities: len(s.Opportunities),
		Decisions:     len(s.Decisions),
		Errors:        s.Errors,
		StartedAt:     s.StartedAt,
		Duration:      time.Since(s.StartedAt),
	}
	for _, d := range s.Decisions {
		if d.Proceeds() {
			summary.Proceeded++
		} else {
			summary.Rejected++
		}
	}
	for _, r := range s.Results {
		if r.Success {
			summary.Executed++
			summary.RealizedProfit = summary.RealizedProfit.Add(r.RealizedProfit)
		} else {
			summary.Failed++
		}
	}
	return summary
}
