// Package engine runs the per-event loss pipeline (align, grow, aggregate,
// estimate, combine, classify) and fans batches of events out to a bounded
// worker pool.
package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quakeloss/internal/alert"
	"github.com/sells-group/quakeloss/internal/calibration"
	"github.com/sells-group/quakeloss/internal/combine"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/loss"
	"github.com/sells-group/quakeloss/internal/model"
	"github.com/sells-group/quakeloss/internal/resilience"
	"github.com/sells-group/quakeloss/internal/store"
)

// borderWarnMMI is the edge intensity above which the shaking footprint is
// likely clipped.
const borderWarnMMI = 6.0

// Data is the read-only reference data shared by every event.
type Data struct {
	Population     *grid.Grid
	PopulationYear int
	Countries      *grid.Grid
	Calibration    calibration.Source
	GDP            loss.GDPSource
	Growth         *exposure.Growth // nil disables growth projection
	ISO2           func(code int) string
}

// Options tunes an Engine.
type Options struct {
	Models              []loss.Model
	Weights             combine.Weights
	Classifier          alert.Classifier
	Resampler           grid.Resampler
	MaxConcurrentEvents int
	// Retry applies to store writes; the zero value uses defaults.
	Retry resilience.Policy
}

// Engine computes losses for events. It is safe for concurrent use.
type Engine struct {
	data  Data
	opts  Options
	store store.Store
}

// New creates an Engine. st may be nil, in which case results are not
// persisted.
func New(data Data, opts Options, st store.Store) (*Engine, error) {
	if data.Population == nil || data.Countries == nil {
		return nil, eris.New("engine: population and country grids are required")
	}
	if data.Calibration == nil {
		return nil, eris.New("engine: calibration source is required")
	}
	if len(opts.Models) == 0 {
		return nil, eris.New("engine: no loss models configured")
	}
	if opts.Resampler == nil {
		opts.Resampler = grid.DefaultResampler{}
	}
	if opts.Classifier.Threshold <= 0 {
		opts.Classifier = alert.New(alert.DefaultThreshold)
	}
	if opts.MaxConcurrentEvents < 1 {
		opts.MaxConcurrentEvents = 1
	}
	return &Engine{data: data, opts: opts, store: st}, nil
}

// CountryResult is the per-country slice of an event result.
type CountryResult struct {
	Code     int               `json:"code"`
	ISO2     string            `json:"iso2"`
	Exposure exposure.Levels   `json:"exposure"`
	Fatality *combine.Estimate `json:"fatality,omitempty"`
	Economic *combine.Estimate `json:"economic,omitempty"`
}

// Result is everything computed for one event.
type Result struct {
	RunID     string            `json:"run_id,omitempty"`
	Event     model.Event       `json:"event"`
	Alert     alert.Result      `json:"alert"`
	Alerts    []alert.Result    `json:"alerts"`
	Fatality  *combine.Estimate `json:"fatality,omitempty"`
	Economic  *combine.Estimate `json:"economic,omitempty"`
	Models    []*loss.Estimate  `json:"models"`
	Countries []CountryResult   `json:"countries"`
	Summary   model.RunResult   `json:"summary"`

	Aligned  *grid.Aligned   `json:"-"`
	Exposure *exposure.Table `json:"-"`
}

// Run computes losses for one event. Fatal failures are returned as
// *model.EventError.
func (e *Engine) Run(ctx context.Context, shake grid.ShakeGrid) (*Result, error) {
	ev := shake.Event
	log := zap.L().With(zap.String("component", "engine"), zap.String("event_id", ev.ID))
	log.Info("engine: starting event", zap.Float64("magnitude", ev.Magnitude))
	start := time.Now()

	res := &Result{Event: ev}
	fail := func(err error) (*Result, error) {
		evErr := &model.EventError{EventID: ev.ID, Err: err}
		if e.store != nil && res.RunID != "" {
			if ferr := e.store.FailRun(ctx, res.RunID, evErr); ferr != nil {
				log.Warn("engine: failed to record run failure", zap.Error(ferr))
			}
		}
		log.Error("engine: event failed", zap.Error(err))
		return nil, evErr
	}

	if e.store != nil {
		run, err := resilience.DoVal(ctx, e.retry("create run"), func(ctx context.Context) (*model.Run, error) {
			return e.store.CreateRun(ctx, ev)
		})
		if err != nil {
			return fail(eris.Wrap(err, "engine: create run"))
		}
		res.RunID = run.ID
	}

	setStatus := func(status model.RunStatus) {
		if e.store == nil || res.RunID == "" {
			return
		}
		if err := e.store.UpdateRunStatus(ctx, res.RunID, status); err != nil {
			log.Warn("engine: failed to update status", zap.Error(err))
		}
	}

	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		phaseStart := time.Now()
		meta, err := fn()
		pr := model.PhaseResult{
			Name:     name,
			Status:   model.PhaseStatusComplete,
			Duration: time.Since(phaseStart).Milliseconds(),
			Metadata: meta,
		}
		if err != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = err.Error()
			log.Error("engine: phase failed", zap.String("phase", name), zap.Int64("duration_ms", pr.Duration), zap.Error(err))
		} else {
			log.Debug("engine: phase complete", zap.String("phase", name), zap.Int64("duration_ms", pr.Duration))
		}
		res.Summary.Phases = append(res.Summary.Phases, pr)
		return err
	}
	skipPhase := func(name, reason string) {
		res.Summary.Phases = append(res.Summary.Phases, model.PhaseResult{
			Name:     name,
			Status:   model.PhaseStatusSkipped,
			Metadata: map[string]any{"reason": reason},
		})
	}

	// ===== Align =====
	setStatus(model.RunStatusAligning)
	if err := trackPhase("align", func() (map[string]any, error) {
		a, err := grid.Align(shake, e.data.Population, e.data.Countries, e.opts.Resampler)
		if err != nil {
			return nil, err
		}
		res.Aligned = a
		border := a.MaxBorderMMI()
		if math.IsNaN(border) {
			border = 0
		}
		res.Summary.MaxBorderMMI = border
		if border >= borderWarnMMI {
			log.Warn("engine: strong shaking at grid edge, exposure may be underestimated", zap.Float64("max_border_mmi", border))
		}
		return map[string]any{"cells": a.Len(), "max_border_mmi": border}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Growth =====
	if e.data.Growth != nil && e.data.PopulationYear > 0 {
		if err := trackPhase("growth", func() (map[string]any, error) {
			eventYear := ev.Time.Year()
			if err := e.data.Growth.Apply(res.Aligned, e.data.PopulationYear, eventYear); err != nil {
				return nil, err
			}
			return map[string]any{"population_year": e.data.PopulationYear, "event_year": eventYear}, nil
		}); err != nil {
			return fail(err)
		}
	} else {
		skipPhase("growth", "no growth rates configured")
	}

	// ===== Aggregate =====
	setStatus(model.RunStatusAggregating)
	if err := trackPhase("aggregate", func() (map[string]any, error) {
		t, err := exposure.Aggregate(res.Aligned)
		if err != nil {
			return nil, err
		}
		res.Exposure = t
		res.Summary.TotalExposed = int64(math.Round(t.Total()))
		return map[string]any{"countries": len(t.Countries()), "total_exposed": res.Summary.TotalExposed}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Estimate =====
	setStatus(model.RunStatusEstimating)
	var outs []loss.Outcome
	if err := trackPhase("estimate", func() (map[string]any, error) {
		o, err := loss.RunAll(ctx, e.opts.Models, res.Exposure, e.data.Calibration)
		if err != nil {
			return nil, err
		}
		outs = o
		var abstained []string
		for _, out := range o {
			switch {
			case out.Abstained():
				abstained = append(abstained, out.Model)
				var ide *model.InsufficientDataError
				if errors.As(out.Err, &ide) {
					res.Summary.Abstentions = append(res.Summary.Abstentions, ide.Abstention())
				}
			case out.Estimate != nil:
				res.Models = append(res.Models, out.Estimate)
				res.Summary.Abstentions = append(res.Summary.Abstentions, out.Estimate.Abstained...)
			}
		}
		return map[string]any{"models": len(o), "abstained": abstained}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Combine =====
	setStatus(model.RunStatusCombining)
	if err := trackPhase("combine", func() (map[string]any, error) {
		return e.combine(res, outs)
	}); err != nil {
		return fail(err)
	}

	// ===== Classify =====
	setStatus(model.RunStatusClassifying)
	if err := trackPhase("classify", func() (map[string]any, error) {
		best, all, err := e.opts.Classifier.ClassifyEvent(res.Fatality, res.Economic)
		if err != nil {
			return nil, err
		}
		res.Alert = best
		res.Alerts = all
		res.Summary.SummaryAlert = best.Level
		for _, r := range all {
			switch r.Kind {
			case model.LossFatality:
				res.Summary.FatalityAlert = r.Level
			case model.LossEconomic:
				res.Summary.EconomicAlert = r.Level
			}
		}
		return map[string]any{"alert": best.Level.String(), "basis": string(best.Kind)}, nil
	}); err != nil {
		return fail(err)
	}

	res.Summary.ElapsedMillis = time.Since(start).Milliseconds()

	// ===== Persist =====
	if e.store != nil {
		if err := trackPhase("persist", func() (map[string]any, error) {
			rows := res.Exposure.Rows()
			if err := resilience.Do(ctx, e.retry("save exposure"), func(ctx context.Context) error {
				return e.store.SaveExposure(ctx, res.RunID, rows)
			}); err != nil {
				return nil, err
			}
			if err := resilience.Do(ctx, e.retry("complete run"), func(ctx context.Context) error {
				return e.store.CompleteRun(ctx, res.RunID, &res.Summary)
			}); err != nil {
				return nil, err
			}
			return map[string]any{"exposure_rows": len(rows)}, nil
		}); err != nil {
			return fail(eris.Wrap(err, "engine: persist"))
		}
	}

	log.Info("engine: event complete",
		zap.String("alert", res.Alert.Level.String()),
		zap.Float64("fatality_median", res.Summary.FatalityMedian),
		zap.Float64("economic_median_usd", res.Summary.EconomicMedian),
		zap.Int64("elapsed_ms", res.Summary.ElapsedMillis),
	)
	return res, nil
}

func (e *Engine) retry(operation string) resilience.Policy {
	p := e.opts.Retry
	if p.OnRetry == nil {
		p.OnRetry = resilience.Logger(operation)
	}
	return p
}

// combine merges model estimates at event and country scope. A kind with
// no usable model is left nil; the event fails only when both are.
func (e *Engine) combine(res *Result, outs []loss.Outcome) (map[string]any, error) {
	eventWeights := e.opts.Weights.With(e.dominantWeights(res.Exposure))

	var errs []error
	for _, kind := range []model.LossKind{model.LossFatality, model.LossEconomic} {
		ests := loss.Estimates(outs, kind)
		if len(ests) == 0 && !hasKind(e.opts.Models, kind) {
			continue
		}
		c, err := combine.Combine(kind, ests, eventWeights)
		if err != nil {
			var nm *model.NoModelsAvailableError
			if !errors.As(err, &nm) {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		switch kind {
		case model.LossFatality:
			res.Fatality = c
			res.Summary.FatalityMedian = c.Median
			res.Summary.FatalitySigma = c.Sigma
		case model.LossEconomic:
			res.Economic = c
			res.Summary.EconomicMedian = c.Median
			res.Summary.EconomicSigma = c.Sigma
		}
	}
	if res.Fatality == nil && res.Economic == nil {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, &model.NoModelsAvailableError{Kind: model.LossFatality}
	}

	fatal := loss.Estimates(outs, model.LossFatality)
	econ := loss.Estimates(outs, model.LossEconomic)
	for _, code := range res.Exposure.Countries() {
		lv, _ := res.Exposure.Exposure(code)
		cr := CountryResult{Code: code, Exposure: lv}
		if e.data.ISO2 != nil {
			cr.ISO2 = e.data.ISO2(code)
		}
		w := e.opts.Weights
		if cal, ok := e.data.Calibration.Lookup(code); ok {
			w = w.With(cal.Weights)
			if cr.ISO2 == "" {
				cr.ISO2 = cal.ISO2
			}
		}
		if c, err := combine.CombineCountry(code, model.LossFatality, fatal, w); err == nil {
			cr.Fatality = c
		}
		if c, err := combine.CombineCountry(code, model.LossEconomic, econ, w); err == nil {
			cr.Economic = c
		}
		res.Countries = append(res.Countries, cr)
	}

	meta := map[string]any{"countries": len(res.Countries)}
	if res.Fatality != nil {
		meta["fatality_median"] = res.Fatality.Median
	}
	if res.Economic != nil {
		meta["economic_median"] = res.Economic.Median
	}
	return meta, nil
}

// dominantWeights returns the calibration weights of the country with the
// most people exposed at MMI V or above.
func (e *Engine) dominantWeights(t *exposure.Table) map[string]float64 {
	best, bestPop := -1, 0.0
	for _, code := range t.Countries() {
		if pop := t.CountryTotal(code, 5); pop > bestPop {
			best, bestPop = code, pop
		}
	}
	if best < 0 {
		return nil
	}
	cal, ok := e.data.Calibration.Lookup(best)
	if !ok {
		return nil
	}
	return cal.Weights
}

func hasKind(models []loss.Model, kind model.LossKind) bool {
	for _, m := range models {
		if m.Kind() == kind {
			return true
		}
	}
	return false
}

// Outcome is the result of one event in a batch.
type Outcome struct {
	Event  model.Event `json:"event"`
	Result *Result     `json:"result,omitempty"`
	Err    error       `json:"-"`
}

// RunBatch runs events concurrently, at most MaxConcurrentEvents at a
// time. A failing event is reported in its Outcome and never stops the
// others. Outcomes are in input order.
func (e *Engine) RunBatch(ctx context.Context, events []grid.ShakeGrid) []Outcome {
	outs := make([]Outcome, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentEvents)

	for i, shake := range events {
		outs[i].Event = shake.Event
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outs[i].Err = &model.EventError{EventID: shake.Event.ID, Err: eris.Wrap(err, "engine: batch cancelled")}
				return nil
			}
			res, err := e.Run(gctx, shake)
			outs[i].Result = res
			outs[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, o := range outs {
		if o.Err != nil {
			failed++
		}
	}
	zap.L().Info("engine: batch complete",
		zap.Int("events", len(events)),
		zap.Int("failed", failed),
	)
	return outs
}

// Exposure aligns, projects and aggregates one event without running loss
// models or touching the store.
func (e *Engine) Exposure(ctx context.Context, shake grid.ShakeGrid) (*exposure.Table, *grid.Aligned, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	a, err := grid.Align(shake, e.data.Population, e.data.Countries, e.opts.Resampler)
	if err != nil {
		return nil, nil, &model.EventError{EventID: shake.Event.ID, Err: err}
	}
	if e.data.Growth != nil && e.data.PopulationYear > 0 {
		if err := e.data.Growth.Apply(a, e.data.PopulationYear, shake.Event.Time.Year()); err != nil {
			return nil, nil, &model.EventError{EventID: shake.Event.ID, Err: err}
		}
	}
	t, err := exposure.Aggregate(a)
	if err != nil {
		return nil, nil, &model.EventError{EventID: shake.Event.ID, Err: err}
	}
	return t, a, nil
}

// ISO2 returns the two-letter code of a country, "" when unknown.
func (e *Engine) ISO2(code int) string {
	if e.data.ISO2 == nil {
		return ""
	}
	return e.data.ISO2(code)
}
