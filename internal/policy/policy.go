// Package policy turns a scored setup into an action. Conflicts are advisory in
// scoring; whether they block anything is decided here.
package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
	"setup-maturity/internal/scoring"
)

// Action is the suggested handling of a setup.
type Action string

const (
	Execute        Action = "EXECUTE"
	ExecuteReduced Action = "EXECUTE_REDUCED"
	Consider       Action = "CONSIDER"
	Monitor        Action = "MONITOR"
	ReviewActive   Action = "REVIEW_ACTIVE"
	Skip           Action = "SKIP"
)

// Actionable reports whether the action warrants an alert.
func (a Action) Actionable() bool {
	switch a {
	case Execute, ExecuteReduced, ReviewActive:
		return true
	default:
		return false
	}
}

// Config gates actions.
type Config struct {
	MinScoreToAct   float64 `mapstructure:"min_score_to_act"`
	MinGrade        string  `mapstructure:"min_grade"`
	BlockOnConflict bool    `mapstructure:"block_on_conflict"`
}

// DefaultConfig returns the policy defaults.
func DefaultConfig() Config {
	return Config{MinScoreToAct: 0.65, MinGrade: "B"}
}

// Validate checks the score gate and grade.
func (c Config) Validate() error {
	if c.MinScoreToAct < 0 || c.MinScoreToAct > 1 {
		return fmt.Errorf("%w: policy.min_score_to_act must be in [0,1]", market.ErrInvalidConfiguration)
	}
	if _, err := scoring.ParseGrade(c.MinGrade); err != nil {
		return fmt.Errorf("policy.min_grade: %w", err)
	}
	return nil
}

// Policy decides actions.
type Policy struct {
	cfg      Config
	minGrade scoring.Grade
	minScore decimal.Decimal
}

// New validates cfg.
func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, _ := scoring.ParseGrade(cfg.MinGrade)
	return &Policy{cfg: cfg, minGrade: g, minScore: decimal.NewFromFloat(cfg.MinScoreToAct)}, nil
}

// Decision is the action plus a short reason.
type Decision struct {
	Action Action
	Reason string
}

// Decide maps a result to an action.
func (p *Policy) Decide(r scoring.Result) Decision {
	if r.Grade == scoring.Ungraded {
		return Decision{Action: Skip, Reason: "below grade cutoff"}
	}
	if r.Score.LessThan(p.minScore) || r.Grade.Rank() < p.minGrade.Rank() {
		switch r.Grade {
		case scoring.GradeC, scoring.GradeD:
			return Decision{Action: Monitor, Reason: fmt.Sprintf("score %s grade %s below gate", r.Score.StringFixed(2), r.Grade)}
		default:
			return Decision{Action: Skip, Reason: fmt.Sprintf("score %s below %s", r.Score.StringFixed(2), p.minScore.StringFixed(2))}
		}
	}

	if r.Conflict {
		if p.cfg.BlockOnConflict {
			return Decision{Action: ReviewActive, Reason: fmt.Sprintf("opposes %d open trade(s)", len(r.Conflicts))}
		}
		if r.Grade == scoring.GradeA {
			return Decision{Action: ExecuteReduced, Reason: "grade A with open conflict"}
		}
	}

	switch r.Grade {
	case scoring.GradeA:
		return Decision{Action: Execute, Reason: "grade A"}
	case scoring.GradeB:
		return Decision{Action: ExecuteReduced, Reason: "grade B"}
	case scoring.GradeC:
		return Decision{Action: Consider, Reason: "grade C"}
	default:
		return Decision{Action: Monitor, Reason: "grade D"}
	}
}
