// Package alert maps combined loss distributions onto green, yellow,
// orange and red alert levels.
package alert

import (
	"fmt"
	"math"

	"github.com/sells-group/quakeloss/internal/combine"
	"github.com/sells-group/quakeloss/internal/model"
)

// DefaultThreshold is the exceedance probability needed to raise a level.
const DefaultThreshold = 0.10

const massTolerance = 1e-6

// Level pairs an alert level with the loss (in bracket units) at which it
// starts.
type Level struct {
	Level model.AlertLevel `json:"level"`
	Lower float64          `json:"lower"`
}

// DefaultLevels are the standard PAGER thresholds: yellow from 1, orange
// from 100 and red from 1,000 fatalities (or USD millions).
func DefaultLevels() []Level {
	return []Level{
		{Level: model.AlertYellow, Lower: 1},
		{Level: model.AlertOrange, Lower: 100},
		{Level: model.AlertRed, Lower: 1000},
	}
}

// Result is a classified estimate.
type Result struct {
	Kind        model.LossKind   `json:"kind"`
	Level       model.AlertLevel `json:"level"`
	Probability float64          `json:"probability"`
}

// Classifier picks the most severe level whose exceedance probability
// reaches Threshold.
type Classifier struct {
	Threshold float64
	Levels    []Level
}

// New returns a classifier with the default levels.
func New(threshold float64) Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Classifier{Threshold: threshold, Levels: DefaultLevels()}
}

// Classify returns the alert for one combined estimate. Bracket masses
// must be non-negative and sum to one.
func (c Classifier) Classify(e *combine.Estimate) (Result, error) {
	if e == nil {
		return Result{}, &model.InvariantViolationError{Check: "alert", Detail: "nil estimate"}
	}
	if err := checkMass(e.Brackets); err != nil {
		return Result{}, err
	}
	levels := c.Levels
	if len(levels) == 0 {
		levels = DefaultLevels()
	}
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	res := Result{Kind: e.Kind, Level: model.AlertGreen, Probability: e.Exceedance(0)}
	for _, l := range levels {
		p := e.Exceedance(l.Lower)
		if p >= threshold && l.Level > res.Level {
			res.Level = l.Level
			res.Probability = p
		}
	}
	return res, nil
}

// ClassifyEvent classifies both loss kinds and returns the more severe
// result first. A nil estimate (no models for that kind) is skipped; with
// both nil the event is an error.
func (c Classifier) ClassifyEvent(fatality, economic *combine.Estimate) (Result, []Result, error) {
	var all []Result
	for _, e := range []*combine.Estimate{fatality, economic} {
		if e == nil {
			continue
		}
		r, err := c.Classify(e)
		if err != nil {
			return Result{}, nil, err
		}
		all = append(all, r)
	}
	if len(all) == 0 {
		return Result{}, nil, &model.InvariantViolationError{Check: "alert", Detail: "no estimates to classify"}
	}
	best := all[0]
	for _, r := range all[1:] {
		if model.MaxAlert(best.Level, r.Level) != best.Level {
			best = r
		}
	}
	return best, all, nil
}

func checkMass(brackets []combine.Bracket) error {
	if len(brackets) == 0 {
		return &model.InvariantViolationError{Check: "bracket mass", Detail: "no brackets"}
	}
	var sum float64
	for _, b := range brackets {
		if b.Probability < 0 || math.IsNaN(b.Probability) {
			return &model.InvariantViolationError{
				Check:  "bracket mass",
				Detail: fmt.Sprintf("bracket %s has probability %v", b.Label, b.Probability),
			}
		}
		sum += b.Probability
	}
	if math.Abs(sum-1) > massTolerance {
		return &model.InvariantViolationError{
			Check:  "bracket mass",
			Detail: fmt.Sprintf("bracket probabilities sum to %v", sum),
		}
	}
	return nil
}
