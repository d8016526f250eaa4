package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/database"
	"github.com/arbfund/poolpilot/internal/exchange"
	"github.com/arbfund/poolpilot/internal/models"
)

// Stage identifies one node of the cycle state machine.
type Stage string

const (
	StageObserve    Stage = "observe"
	StageDetect     Stage = "detect"
	StageStrategize Stage = "strategize"
	StageAssessRisk Stage = "assess_risk"
	StageOptimize   Stage = "optimize"
	StageExecute    Stage = "execute"
	StageReflect    Stage = "reflect"
	stageDone       Stage = "done"
)

// Controller drives the decision cycle as an explicit state machine:
// Observe, Detect, Strategize, AssessRisk, Optimize, Execute, Reflect. Two
// shortcuts exist: an empty detection and an all-rejected risk assessment
// both jump straight to Reflect. Reflect runs on every cycle. Stage failures
// are recorded on the cycle state and never abort the cycle.
type Controller struct {
	cfg        *config.Config
	pool       *PoolContext
	market     exchange.MarketDataSource
	detector   *OpportunityDetector
	strategist *StrategyGenerator
	risk       *RiskAssessor
	optimizer  *ExecutionOptimizer
	reflector  *ReflectionEngine
	notifier   Notifier
	cache      *database.RedisClient // optional
	logger     *logrus.Logger

	mu      sync.Mutex
	pending []map[string]any

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ControllerDeps bundles the controller's collaborators.
type ControllerDeps struct {
	Pool       *PoolContext
	Market     exchange.MarketDataSource
	Detector   *OpportunityDetector
	Strategist *StrategyGenerator
	Risk       *RiskAssessor
	Optimizer  *ExecutionOptimizer
	Reflector  *ReflectionEngine
	Notifier   Notifier
	Cache      *database.RedisClient
}

// NewController wires the cycle state machine together. A nil notifier is
// replaced with a no-op one.
func NewController(cfg *config.Config, deps ControllerDeps, logger *logrus.Logger) *Controller {
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	return &Controller{
		cfg:        cfg,
		pool:       deps.Pool,
		market:     deps.Market,
		detector:   deps.Detector,
		strategist: deps.Strategist,
		risk:       deps.Risk,
		optimizer:  deps.Optimizer,
		reflector:  deps.Reflector,
		notifier:   deps.Notifier,
		cache:      deps.Cache,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// UpdateConfig validates and queues a partial configuration update. The batch
// is accepted or rejected as a whole; an accepted batch is applied at the
// start of the next cycle, so a running cycle always sees one consistent
// configuration. Returns whether the batch was accepted.
func (c *Controller) UpdateConfig(partial map[string]any) bool {
	if len(partial) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	scratch := *c.cfg
	if !scratch.Apply(partial) {
		c.logger.WithField("keys", len(partial)).Warn("Configuration update rejected")
		return false
	}
	c.pending = append(c.pending, partial)
	return true
}

func (c *Controller) applyPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, partial := range pending {
		if c.cfg.Apply(partial) {
			c.logger.WithField("keys", len(partial)).Info("Configuration update applied")
		}
	}
}

// RunOnce executes one full cycle and returns its summary. It never returns
// an error: stage failures are carried in the summary's error list.
func (c *Controller) RunOnce(ctx context.Context) *models.CycleSummary {
	c.applyPending()

	state := NewPipelineState()
	stage := StageObserve
	var reflection *models.Reflection

	for stage != stageDone {
		c.logger.WithField("stage", string(stage)).Debug("Entering stage")

		switch stage {
		case StageObserve:
			state = c.runStage(StageObserve, state, c.observe(ctx))
			stage = StageDetect

		case StageDetect:
			state = c.runStage(StageDetect, state, func(s PipelineState) (PipelineState, error) {
				s.Opportunities = c.detector.Detect(s.Market)
				return s, nil
			})
			if len(state.Opportunities) == 0 {
				stage = StageReflect
			} else {
				stage = StageStrategize
			}

		case StageStrategize:
			state = c.runStage(StageStrategize, state, func(s PipelineState) (PipelineState, error) {
				s.Decisions = c.strategist.Generate(ctx, s.Pool, s.Opportunities)
				return s, nil
			})
			stage = StageAssessRisk

		case StageAssessRisk:
			state = c.runStage(StageAssessRisk, state, func(s PipelineState) (PipelineState, error) {
				s.Decisions = c.risk.Assess(ctx, s.Pool, s.Decisions)
				return s, nil
			})
			if !state.AnyProceeds() {
				stage = StageReflect
			} else {
				stage = StageOptimize
			}

		case StageOptimize:
			state = c.runStage(StageOptimize, state, func(s PipelineState) (PipelineState, error) {
				s.Plans = c.optimizer.Optimize(ctx, s.Pool, s.ProceededDecisions())
				return s, nil
			})
			stage = StageExecute

		case StageExecute:
			state = c.runStage(StageExecute, state, func(s PipelineState) (PipelineState, error) {
				s.Results = c.optimizer.Execute(ctx, s.Plans)
				return s, nil
			})
			stage = StageReflect

		case StageReflect:
			state = c.runStage(StageReflect, state, func(s PipelineState) (PipelineState, error) {
				reflection = c.reflector.Reflect(ctx, s)
				return s, nil
			})
			stage = stageDone
		}
	}

	summary := state.Summary()
	c.finishCycle(ctx, summary, reflection)
	return summary
}

// observe refreshes the pool snapshot and fetches the market snapshot. A
// pool failure is recorded but does not block market observation; later
// stages treat a nil pool as an empty one.
func (c *Controller) observe(ctx context.Context) func(PipelineState) (PipelineState, error) {
	return func(s PipelineState) (PipelineState, error) {
		pool, err := c.pool.Snapshot(ctx)
		if err != nil {
			s = s.WithError(string(StageObserve), fmt.Errorf("pool snapshot: %w", err))
		}
		s.Pool = pool

		fetchCtx, cancel := context.WithTimeout(ctx, config.Duration(c.cfg.Execution.MarketDataTimeout, 10*time.Second))
		defer cancel()
		market, err := c.market.FetchMarketSnapshot(fetchCtx)
		if err != nil {
			return s, fmt.Errorf("market snapshot: %w", err)
		}
		s.Market = market
		return s, nil
	}
}

// runStage executes one stage function with a failure boundary: errors and
// panics are converted into stage errors. An erroring stage keeps whatever
// state it returned, so errors it already recorded survive; a panicking
// stage keeps the pre-stage state.
func (c *Controller) runStage(stage Stage, state PipelineState, fn func(PipelineState) (PipelineState, error)) PipelineState {
	next, err := func() (next PipelineState, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				next, err = state, fmt.Errorf("stage panicked: %v", rec)
			}
		}()
		return fn(state)
	}()
	if err != nil {
		c.logger.WithError(err).WithField("stage", string(stage)).Error("Stage failed")
		return next.WithError(string(stage), err)
	}
	return next
}

func (c *Controller) finishCycle(ctx context.Context, summary *models.CycleSummary, reflection *models.Reflection) {
	c.logger.WithFields(logrus.Fields{
		"opportunities":   summary.Opportunities,
		"decisions":       summary.Decisions,
		"executed":        summary.Executed,
		"failed":          summary.Failed,
		"realized_profit": summary.RealizedProfit.StringFixed(4),
		"errors":          len(summary.Errors),
		"duration":        summary.Duration.String(),
	}).Info("Cycle completed")

	if c.cache != nil {
		if err := c.cache.PushCycleSummary(ctx, summary); err != nil {
			c.logger.WithError(err).Warn("Cycle summary cache push failed")
		}
	}
	c.notifier.NotifyCycle(ctx, summary, reflection)
}

// RunContinuous runs cycles until the context is canceled or Stop is called.
// Cancellation is cooperative: an in-flight cycle always runs to completion
// before the loop exits.
func (c *Controller) RunContinuous(ctx context.Context) {
	interval := config.Duration(c.cfg.Trading.CycleInterval, 30*time.Second)
	c.logger.WithField("interval", interval.String()).Info("Starting continuous operation")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Context canceled, stopping")
			return
		case <-c.stopCh:
			c.logger.Info("Stop requested, stopping")
			return
		default:
		}

		started := time.Now()
		// The cycle itself is shielded from cancellation so a shutdown
		// request never abandons an in-flight trade.
		c.RunOnce(context.WithoutCancel(ctx))

		// Updates queued during the cycle take effect now, so an interval
		// change shortens or lengthens the very next sleep.
		c.applyPending()
		remaining := config.Duration(c.cfg.Trading.CycleInterval, 30*time.Second) - time.Since(started)
		if remaining <= 0 {
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("Context canceled, stopping")
			return
		case <-c.stopCh:
			timer.Stop()
			c.logger.Info("Stop requested, stopping")
			return
		case <-timer.C:
		}
	}
}

// Stop requests a cooperative shutdown of RunContinuous. Safe to call more
// than once and from any goroutine.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Metrics exposes the cumulative cross-cycle performance metrics.
func (c *Controller) Metrics() models.PerformanceMetrics {
	return c.reflector.Metrics()
}
