package training

import "math"

// ControllerConfig tunes the convergence-driven phase alternation.
type ControllerConfig struct {
	StartingPhase Phase

	MaximizationEpochLimit int
	ExpectationEpochLimit  int

	// Loss-convergence stopping applies only to the maximization phase:
	// every CheckEveryNIterations training steps the loss must improve
	// on the running minimum by more than LossConvergenceEps, or
	// patience is spent.
	CheckEveryNIterations   int
	LossConvergenceStopping bool
	LossConvergencePatience int
	LossConvergenceEps      float64

	// Generalization stopping watches the per-epoch validation running
	// average on the listed phases.
	GeneralizationStopping []Phase
	GeneralizationPatience int
	GeneralizationEps      float64

	// Optimizer state is cleared on every phase transition unless
	// DisableOptimizerReset is set.
	DisableOptimizerReset          bool
	ReinitializeFlowOnMaximization bool
}

func (c *ControllerConfig) validate() error {
	if c.StartingPhase == "" {
		c.StartingPhase = PhaseMaximization
	}
	if _, err := ParsePhase(string(c.StartingPhase)); err != nil {
		return err
	}
	if c.MaximizationEpochLimit <= 0 {
		c.MaximizationEpochLimit = 10
	}
	if c.ExpectationEpochLimit <= 0 {
		c.ExpectationEpochLimit = 10
	}
	if c.CheckEveryNIterations <= 0 {
		c.CheckEveryNIterations = 1
	}
	if c.LossConvergencePatience <= 0 {
		c.LossConvergencePatience = 5
	}
	if c.GeneralizationPatience <= 0 {
		c.GeneralizationPatience = 5
	}
	for _, p := range c.GeneralizationStopping {
		if _, err := ParsePhase(string(p)); err != nil {
			return err
		}
	}
	return nil
}

// PhaseController is the state machine deciding when to swap between
// maximization and expectation. Transitions fire on whichever trigger
// occurs first: phase epoch limit, training-loss convergence, or a
// validation generalization gap.
type PhaseController struct {
	cfg   ControllerConfig
	phase Phase

	epochsOnMaximization int
	epochsOnExpectation  int

	trainingIterations int
	lossPatience       int
	runningMinLoss     float64

	generalizationPatience int
	runningMinValidation   float64
	validationRunningAvg   float64
	validationBatches      int
	numValidationBatches   int
}

func NewPhaseController(cfg ControllerConfig) (*PhaseController, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PhaseController{
		cfg:                    cfg,
		phase:                  cfg.StartingPhase,
		lossPatience:           cfg.LossConvergencePatience,
		runningMinLoss:         math.Inf(1),
		generalizationPatience: cfg.GeneralizationPatience,
		runningMinValidation:   math.Inf(1),
	}, nil
}

func (c *PhaseController) Phase() Phase { return c.phase }

// ResetOptimizersOnTransition reports whether the caller should clear
// optimizer state after a transition.
func (c *PhaseController) ResetOptimizersOnTransition() bool { return !c.cfg.DisableOptimizerReset }

// ReinitializeFlowOnTransition reports whether the caller should
// reinitialize flow weights after a transition into maximization.
func (c *PhaseController) ReinitializeFlowOnTransition() bool {
	return c.cfg.ReinitializeFlowOnMaximization && c.phase == PhaseMaximization
}

func (c *PhaseController) changePhase() {
	c.phase = c.phase.Other()

	c.epochsOnMaximization = 0
	c.epochsOnExpectation = 0

	c.lossPatience = c.cfg.LossConvergencePatience
	c.runningMinLoss = math.Inf(1)

	c.generalizationPatience = c.cfg.GeneralizationPatience
	c.runningMinValidation = math.Inf(1)
}

// ObserveTrainingLoss feeds one training-step loss; it returns true
// when the observation triggered a phase transition.
func (c *PhaseController) ObserveTrainingLoss(loss float64) bool {
	if !c.cfg.LossConvergenceStopping || c.phase == PhaseExpectation {
		return false
	}
	c.trainingIterations++
	if c.trainingIterations%c.cfg.CheckEveryNIterations != 0 {
		return false
	}

	if loss < c.runningMinLoss-c.cfg.LossConvergenceEps {
		c.lossPatience = c.cfg.LossConvergencePatience
		c.runningMinLoss = math.Min(c.runningMinLoss, loss)
		return false
	}
	c.lossPatience--
	if c.lossPatience == 0 {
		c.changePhase()
		return true
	}
	return false
}

// ObserveValidationLoss feeds one validation-batch loss; batchIdx is
// the batch's position within the epoch. The first epoch only
// establishes the batch count; afterwards the running average at the
// final batch drives the patience logic.
func (c *PhaseController) ObserveValidationLoss(batchIdx int, loss float64) bool {
	inScope := false
	for _, p := range c.cfg.GeneralizationStopping {
		if p == c.phase {
			inScope = true
			break
		}
	}
	if !inScope {
		return false
	}

	c.validationRunningAvg = (c.validationRunningAvg*float64(batchIdx) + loss) / float64(batchIdx+1)
	if c.numValidationBatches < batchIdx+1 {
		c.numValidationBatches = batchIdx + 1
		return false
	}
	if c.numValidationBatches != batchIdx+1 {
		return false
	}

	current := c.validationRunningAvg
	if current <= c.runningMinValidation+c.cfg.GeneralizationEps {
		c.generalizationPatience = c.cfg.GeneralizationPatience
		c.runningMinValidation = math.Min(c.runningMinValidation, current)
		return false
	}
	c.generalizationPatience--
	if c.generalizationPatience == 0 {
		c.changePhase()
		return true
	}
	return false
}

// EndEpoch closes out one epoch of the current phase and returns true
// when the epoch limit forced a transition.
func (c *PhaseController) EndEpoch() bool {
	switch c.phase {
	case PhaseMaximization:
		c.epochsOnMaximization++
		if c.epochsOnMaximization == c.cfg.MaximizationEpochLimit {
			c.changePhase()
			return true
		}
	case PhaseExpectation:
		c.epochsOnExpectation++
		if c.epochsOnExpectation == c.cfg.ExpectationEpochLimit {
			c.changePhase()
			return true
		}
	}
	return false
}
