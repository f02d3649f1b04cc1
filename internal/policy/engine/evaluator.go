package engine

import "context"

// RiskLevel classifies a login risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether l is one of the known levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Thresholds are the lower score bounds of the medium, high and critical levels.
type Thresholds struct {
	Medium   int
	High     int
	Critical int
}

// DefaultThresholds returns 25/50/75.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 25, High: 50, Critical: 75}
}

// RiskInput is what a policy sees about one login attempt.
type RiskInput struct {
	UserID  string
	Score   int
	Factors []string
}

// RiskDecision is the policy outcome for a login attempt.
type RiskDecision struct {
	Level                RiskLevel
	RequiresVerification bool
	Block                bool
}

// RiskPolicy maps a scored login attempt to a level and an action.
type RiskPolicy interface {
	Decide(ctx context.Context, in RiskInput) (RiskDecision, error)
}

// ThresholdPolicy decides purely from score thresholds: verification at high and above, block at critical.
type ThresholdPolicy struct {
	Thresholds Thresholds
}

// NewThresholdPolicy returns a ThresholdPolicy with t.
func NewThresholdPolicy(t Thresholds) *ThresholdPolicy {
	return &ThresholdPolicy{Thresholds: t}
}

func (p *ThresholdPolicy) Decide(_ context.Context, in RiskInput) (RiskDecision, error) {
	return p.decide(in.Score), nil
}

func (p *ThresholdPolicy) decide(score int) RiskDecision {
	t := p.Thresholds
	var level RiskLevel
	switch {
	case score >= t.Critical:
		level = RiskCritical
	case score >= t.High:
		level = RiskHigh
	case score >= t.Medium:
		level = RiskMedium
	default:
		level = RiskLow
	}
	return RiskDecision{
		Level:                level,
		RequiresVerification: level == RiskHigh || level == RiskCritical,
		Block:                level == RiskCritical,
	}
}
