package training

import (
	"fmt"
	"log/slog"
	"math/rand"

	omwrand "github.com/sw965/omw/math/rand"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/dataset"
	"github.com/sw965/oslow/flow"
	"github.com/sw965/oslow/optimizer"
	"github.com/sw965/oslow/permutation"
	"gonum.org/v1/gonum/blas/blas32"
)

// Graph is the ground-truth causal DAG collaborator, used only to score
// candidate orderings by backward-edge count.
type Graph interface {
	NumNodes() int
	Edges() [][2]int
}

// CountBackward counts graph edges (u,v) whose cause u sits after its
// effect v in the candidate ordering.
func CountBackward(ordering []int, g Graph) (int, error) {
	d := g.NumNodes()
	if len(ordering) != d {
		return 0, oslow.NewConfigurationError("ordering", "length %d does not match %d nodes", len(ordering), d)
	}
	pos := make([]int, d)
	for i := range pos {
		pos[i] = -1
	}
	for i, v := range ordering {
		if v < 0 || v >= d || pos[v] != -1 {
			return 0, oslow.NewConfigurationError("ordering", "not a permutation of 0..%d", d-1)
		}
		pos[v] = i
	}
	count := 0
	for _, e := range g.Edges() {
		if pos[e[0]] > pos[e[1]] {
			count++
		}
	}
	return count, nil
}

type TrainerConfig struct {
	FlowFrequency        int
	PermutationFrequency int
	MaxEpochs            int
	Temperature          TemperatureSchedule

	// EvaluationSamples is the number of hard permutations drawn for
	// the majority-vote backward-penalty metric after each permutation
	// step.
	EvaluationSamples int

	// BirkhoffFrequency renders the polytope diagnostic every N
	// permutation micro-steps; 0 disables it. It only fires for d ≤ 4.
	BirkhoffFrequency  int
	BirkhoffNumSamples int
}

func (c *TrainerConfig) validate() error {
	if c.FlowFrequency <= 0 {
		return oslow.NewConfigurationError("flow_frequency", "must be positive, got %d", c.FlowFrequency)
	}
	if c.PermutationFrequency <= 0 {
		return oslow.NewConfigurationError("permutation_frequency", "must be positive, got %d", c.PermutationFrequency)
	}
	if c.MaxEpochs <= 0 {
		return oslow.NewConfigurationError("max_epochs", "must be positive, got %d", c.MaxEpochs)
	}
	if c.Temperature.Initial == 0.0 {
		c.Temperature.Initial = 1.0
	}
	if err := c.Temperature.Validate(); err != nil {
		return err
	}
	if c.EvaluationSamples <= 0 {
		c.EvaluationSamples = 100
	}
	if c.BirkhoffNumSamples <= 0 {
		c.BirkhoffNumSamples = 64
	}
	return nil
}

// Trainer drives the alternating optimization. Train runs the
// fixed-frequency schedule; TrainWithController hands phase switching
// to a convergence-driven PhaseController instead.
//
// Execution is strictly serialized: a flow step acquires the flow
// parameter group, a permutation step the permutation group, and each
// step's gradient collection flags leave the other group untouched.
type Trainer struct {
	Config TrainerConfig

	Model  *flow.OSlow
	Method permutation.Method
	Graph  Graph

	FlowLoader        *dataset.Loader
	PermutationLoader *dataset.Loader

	FlowOptimizer        optimizer.Optimizer
	PermutationOptimizer optimizer.Optimizer
	FlowScheduler        optimizer.Scheduler
	PermutationScheduler optimizer.Scheduler

	Sink     Sink
	Renderer BirkhoffRenderer
	Logger   *slog.Logger
	Rng      *rand.Rand

	lock     ParamGroupLock
	flowStep int
	permStep int
}

func (t *Trainer) Validate() error {
	if t.Model == nil {
		return oslow.NewConfigurationError("model", "must not be nil")
	}
	if t.Method == nil {
		return oslow.NewConfigurationError("method", "must not be nil")
	}
	if t.Graph == nil {
		return oslow.NewConfigurationError("graph", "must not be nil")
	}
	if t.FlowLoader == nil || t.PermutationLoader == nil {
		return oslow.NewConfigurationError("loaders", "flow and permutation loaders must not be nil")
	}
	if t.FlowOptimizer == nil || t.PermutationOptimizer == nil {
		return oslow.NewConfigurationError("optimizers", "flow and permutation optimizers must not be nil")
	}
	if t.FlowLoader.Dim != t.Model.InFeatures || t.PermutationLoader.Dim != t.Model.InFeatures {
		return oslow.NewConfigurationError("loaders", "loader width must match model in_features %d", t.Model.InFeatures)
	}
	if t.Graph.NumNodes() != t.Model.InFeatures {
		return oslow.NewConfigurationError("graph", "node count %d does not match model in_features %d", t.Graph.NumNodes(), t.Model.InFeatures)
	}
	if t.Sink == nil {
		t.Sink = NopSink{}
	}
	if t.Logger == nil {
		t.Logger = slog.Default()
	}
	if t.FlowScheduler == nil {
		t.FlowScheduler = &optimizer.ConstantLR{Lr: t.FlowOptimizer.LearningRate()}
	}
	if t.PermutationScheduler == nil {
		t.PermutationScheduler = &optimizer.ConstantLR{Lr: t.PermutationOptimizer.LearningRate()}
	}
	return t.Config.validate()
}

// flowTrainStep runs one full pass over the flow loader, updating flow
// weights only. Gamma stays untouched: the loss collects no permutation
// gradient, and the group lock documents the exclusion.
func (t *Trainer) flowTrainStep(temperature float32) (float32, error) {
	release, err := t.lock.Acquire(GroupFlow)
	if err != nil {
		return 0, err
	}
	defer release()

	batches, err := t.FlowLoader.Batches()
	if err != nil {
		return 0, err
	}
	var last float32
	for _, batch := range batches {
		loss, grad, err := t.Method.FlowLearningLoss(t.Model, batch, temperature)
		if err != nil {
			return 0, err
		}
		if err := t.FlowOptimizer.Step(t.Model.FlatParams(), grad.FlatGrads()); err != nil {
			return 0, err
		}
		t.flowStep++
		t.Sink.Record("flow/step", float64(t.flowStep))
		t.Sink.Record("flow/loss", float64(loss))
		last = loss
	}
	return last, nil
}

// permutationTrainStep runs one full pass over the permutation loader,
// updating gamma only; the flow stays frozen in evaluation mode.
func (t *Trainer) permutationTrainStep(temperature float32) (float32, error) {
	release, err := t.lock.Acquire(GroupPermutation)
	if err != nil {
		return 0, err
	}
	defer release()

	batches, err := t.PermutationLoader.Batches()
	if err != nil {
		return 0, err
	}
	gamma := t.Method.Gamma()
	var last float32
	for _, batch := range batches {
		loss, dGamma, err := t.Method.PermutationLearningLoss(t.Model, batch, temperature)
		if err != nil {
			return 0, err
		}
		err = t.PermutationOptimizer.Step(
			[][]float32{gamma.Data},
			[][]float32{dGamma.Data},
		)
		if err != nil {
			return 0, err
		}
		t.permStep++
		t.Sink.Record("permutation/step", float64(t.permStep))
		t.Sink.Record("permutation/loss", float64(loss))
		last = loss
	}
	return last, nil
}

// logEvaluation draws hard permutation samples, majority-votes an
// ordering, and records its backward-edge count against the DAG.
func (t *Trainer) logEvaluation() error {
	perms, err := t.Method.SampleHardPermutations(t.Config.EvaluationSamples)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	orderings := map[string][]int{}
	bestKey := ""
	for k := range perms {
		ordering := matrix.ArgmaxPerRow(perms[k])
		key := fmt.Sprint(ordering)
		counts[key]++
		orderings[key] = ordering
		if bestKey == "" || counts[key] > counts[bestKey] {
			bestKey = key
		}
	}
	penalty, err := CountBackward(orderings[bestKey], t.Graph)
	if err != nil {
		return err
	}
	t.Sink.Record("permutation/backward_penalty", float64(penalty))
	return nil
}

func (t *Trainer) renderBirkhoff(step int, temperature float32) error {
	if t.Renderer == nil || t.Config.BirkhoffFrequency <= 0 {
		return nil
	}
	if t.Model.InFeatures > 4 || step%t.Config.BirkhoffFrequency != 0 {
		return nil
	}
	img, err := t.Renderer.Render(t.Method, t.Config.BirkhoffNumSamples, temperature)
	if err != nil {
		return err
	}
	t.Sink.RecordImage("permutation/birkhoff", img)
	return nil
}

// Train runs the fixed-frequency alternation: each outer epoch does
// FlowFrequency flow steps then PermutationFrequency permutation steps,
// with the temperature annealed over the outer epochs.
func (t *Trainer) Train() error {
	if err := t.Validate(); err != nil {
		return err
	}
	ff := t.Config.FlowFrequency
	pf := t.Config.PermutationFrequency
	trueEpochs := t.Config.MaxEpochs/(ff+pf) + 1

	for epoch := 0; epoch < trueEpochs; epoch++ {
		temperature := t.Config.Temperature.At(epoch, trueEpochs)
		t.Sink.Record("permutation/temperature", float64(temperature))
		t.Sink.Record("epoch", float64(epoch))

		for i := 0; i < ff; i++ {
			loss, err := t.flowTrainStep(temperature)
			if err != nil {
				return err
			}
			t.Logger.Info("flow step", "step", epoch*ff+i, "total", trueEpochs*ff, "loss", loss)
			t.FlowOptimizer.SetLearningRate(t.FlowScheduler.Step(loss))
		}

		for j := 0; j < pf; j++ {
			loss, err := t.permutationTrainStep(temperature)
			if err != nil {
				return err
			}
			t.Logger.Info("permutation step", "step", epoch*pf+j, "total", trueEpochs*pf, "loss", loss)
			t.PermutationOptimizer.SetLearningRate(t.PermutationScheduler.Step(loss))

			if err := t.logEvaluation(); err != nil {
				return err
			}
			if err := t.renderBirkhoff(epoch*pf+j, temperature); err != nil {
				return err
			}
		}
	}
	return nil
}

// evaluateNLL scores a batch under the current noise-free ordering
// without collecting any gradients.
func (t *Trainer) evaluateNLL(batch []blas32.Vector) (float32, error) {
	ordering, err := t.Method.PermutationWithoutNoise()
	if err != nil {
		return 0, err
	}
	perm := permutation.OrderingToMatrix(ordering)
	var nll float32
	for _, x := range batch {
		lp, _, err := t.Model.LogProb(x, &perm)
		if err != nil {
			return 0, err
		}
		nll -= lp
	}
	return nll / float32(len(batch)), nil
}

func (t *Trainer) applyTransition(ctrl *PhaseController) {
	t.Logger.Info("phase transition", "phase", string(ctrl.Phase()))
	if ctrl.ResetOptimizersOnTransition() {
		t.FlowOptimizer.Reset()
		t.PermutationOptimizer.Reset()
	}
	if ctrl.ReinitializeFlowOnTransition() {
		if t.Rng == nil {
			t.Rng = omwrand.NewMt19937()
		}
		t.Model.ReinitializeWeights(t.Rng)
	}
}

// TrainWithController replaces the fixed-frequency schedule with the
// convergence-driven state machine: each epoch runs one pass of the
// current phase, feeding losses to the controller, which decides when
// to swap phases.
func (t *Trainer) TrainWithController(ctrl *PhaseController, validation *dataset.Loader) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if ctrl == nil {
		return oslow.NewConfigurationError("controller", "must not be nil")
	}

	for epoch := 0; epoch < t.Config.MaxEpochs; epoch++ {
		temperature := t.Config.Temperature.At(epoch, t.Config.MaxEpochs)
		t.Sink.Record("permutation/temperature", float64(temperature))
		t.Sink.Record("epoch", float64(epoch))

		var changed bool
		var err error
		switch ctrl.Phase() {
		case PhaseMaximization:
			changed, err = t.maximizationEpoch(ctrl, temperature)
		case PhaseExpectation:
			changed, err = t.expectationEpoch(ctrl, temperature)
		}
		// The validation pass runs in every phase; the controller itself
		// decides whether the current phase is generalization-stopped.
		if err == nil && !changed && validation != nil {
			changed, err = t.validationPass(ctrl, validation)
		}
		if err != nil {
			return err
		}
		if !changed {
			changed = ctrl.EndEpoch()
		}
		if changed {
			t.applyTransition(ctrl)
		}
	}
	return nil
}

func (t *Trainer) maximizationEpoch(ctrl *PhaseController, temperature float32) (bool, error) {
	release, err := t.lock.Acquire(GroupFlow)
	if err != nil {
		return false, err
	}
	defer release()

	batches, err := t.FlowLoader.Batches()
	if err != nil {
		return false, err
	}
	for _, batch := range batches {
		loss, grad, err := t.Method.FlowLearningLoss(t.Model, batch, temperature)
		if err != nil {
			return false, err
		}
		if err := t.FlowOptimizer.Step(t.Model.FlatParams(), grad.FlatGrads()); err != nil {
			return false, err
		}
		t.flowStep++
		t.Sink.Record("flow/step", float64(t.flowStep))
		t.Sink.Record("flow/loss", float64(loss))
		t.FlowOptimizer.SetLearningRate(t.FlowScheduler.Step(loss))

		if ctrl.ObserveTrainingLoss(float64(loss)) {
			return true, nil
		}
	}
	return false, nil
}

func (t *Trainer) expectationEpoch(ctrl *PhaseController, temperature float32) (bool, error) {
	loss, err := t.permutationTrainStep(temperature)
	if err != nil {
		return false, err
	}
	t.PermutationOptimizer.SetLearningRate(t.PermutationScheduler.Step(loss))
	if err := t.logEvaluation(); err != nil {
		return false, err
	}
	return false, nil
}

func (t *Trainer) validationPass(ctrl *PhaseController, validation *dataset.Loader) (bool, error) {
	batches, err := validation.Batches()
	if err != nil {
		return false, err
	}
	for batchIdx, batch := range batches {
		loss, err := t.evaluateNLL(batch)
		if err != nil {
			return false, err
		}
		if ctrl.ObserveValidationLoss(batchIdx, float64(loss)) {
			return true, nil
		}
	}
	return false, nil
}
