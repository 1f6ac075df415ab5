package training_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sw965/oslow/training"
)

func TestLossConvergenceTransitionTiming(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{
		StartingPhase:           training.PhaseMaximization,
		LossConvergenceStopping: true,
		LossConvergencePatience: 5,
		LossConvergenceEps:      1e-4,
		CheckEveryNIterations:   1,
		MaximizationEpochLimit:  1000,
		ExpectationEpochLimit:   1000,
	})
	require.NoError(t, err)

	// 最初の観測で running minimum が立つ
	require.False(t, ctrl.ObserveTrainingLoss(1.0))

	// 改善しない損失が5回続くと、ちょうど5回目で遷移する
	for i := 0; i < 4; i++ {
		require.False(t, ctrl.ObserveTrainingLoss(1.0), "check %d", i)
		require.Equal(t, training.PhaseMaximization, ctrl.Phase())
	}
	require.True(t, ctrl.ObserveTrainingLoss(1.0))
	require.Equal(t, training.PhaseExpectation, ctrl.Phase())
}

func TestLossImprovementResetsPatience(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{
		LossConvergenceStopping: true,
		LossConvergencePatience: 3,
		LossConvergenceEps:      1e-4,
		MaximizationEpochLimit:  1000,
		ExpectationEpochLimit:   1000,
	})
	require.NoError(t, err)

	require.False(t, ctrl.ObserveTrainingLoss(1.0))
	require.False(t, ctrl.ObserveTrainingLoss(1.0))
	require.False(t, ctrl.ObserveTrainingLoss(1.0))
	// 改善でリセット
	require.False(t, ctrl.ObserveTrainingLoss(0.5))
	require.False(t, ctrl.ObserveTrainingLoss(0.5))
	require.False(t, ctrl.ObserveTrainingLoss(0.5))
	require.True(t, ctrl.ObserveTrainingLoss(0.5))
}

func TestLossConvergenceIgnoredDuringExpectation(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{
		StartingPhase:           training.PhaseExpectation,
		LossConvergenceStopping: true,
		LossConvergencePatience: 1,
		MaximizationEpochLimit:  1000,
		ExpectationEpochLimit:   1000,
	})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.False(t, ctrl.ObserveTrainingLoss(1.0))
	}
	require.Equal(t, training.PhaseExpectation, ctrl.Phase())
}

func TestEpochLimitTransition(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{
		StartingPhase:          training.PhaseMaximization,
		MaximizationEpochLimit: 3,
		ExpectationEpochLimit:  2,
	})
	require.NoError(t, err)

	require.False(t, ctrl.EndEpoch())
	require.False(t, ctrl.EndEpoch())
	require.True(t, ctrl.EndEpoch())
	require.Equal(t, training.PhaseExpectation, ctrl.Phase())

	require.False(t, ctrl.EndEpoch())
	require.True(t, ctrl.EndEpoch())
	require.Equal(t, training.PhaseMaximization, ctrl.Phase())
}

func TestGeneralizationGapTransition(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{
		StartingPhase:          training.PhaseMaximization,
		GeneralizationStopping: []training.Phase{training.PhaseMaximization},
		GeneralizationPatience: 2,
		GeneralizationEps:      1e-4,
		MaximizationEpochLimit: 1000,
		ExpectationEpochLimit:  1000,
	})
	require.NoError(t, err)

	// 1エポック目はバッチ数の確定のみ
	require.False(t, ctrl.ObserveValidationLoss(0, 1.0))
	require.False(t, ctrl.ObserveValidationLoss(1, 1.0))

	// 2エポック目で running minimum が立つ
	require.False(t, ctrl.ObserveValidationLoss(0, 2.0))
	require.False(t, ctrl.ObserveValidationLoss(1, 2.0))

	// 検証損失が悪化し続けると patience 消費で遷移
	require.False(t, ctrl.ObserveValidationLoss(0, 3.0))
	require.False(t, ctrl.ObserveValidationLoss(1, 3.0))
	require.False(t, ctrl.ObserveValidationLoss(0, 4.0))
	require.True(t, ctrl.ObserveValidationLoss(1, 4.0))
	require.Equal(t, training.PhaseExpectation, ctrl.Phase())
}

func TestGeneralizationGapOnExpectationPhase(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{
		StartingPhase:          training.PhaseExpectation,
		GeneralizationStopping: []training.Phase{training.PhaseExpectation},
		GeneralizationPatience: 1,
		GeneralizationEps:      1e-4,
		MaximizationEpochLimit: 1000,
		ExpectationEpochLimit:  1000,
	})
	require.NoError(t, err)

	// 1エポック目はバッチ数の確定、2エポック目で running minimum
	require.False(t, ctrl.ObserveValidationLoss(0, 1.0))
	require.False(t, ctrl.ObserveValidationLoss(0, 1.0))

	// expectation 相でも検証損失の悪化は遷移を起こす
	require.True(t, ctrl.ObserveValidationLoss(0, 2.0))
	require.Equal(t, training.PhaseMaximization, ctrl.Phase())
}

func TestOptimizerResetDefaultsOn(t *testing.T) {
	ctrl, err := training.NewPhaseController(training.ControllerConfig{})
	require.NoError(t, err)
	require.True(t, ctrl.ResetOptimizersOnTransition())

	ctrl, err = training.NewPhaseController(training.ControllerConfig{DisableOptimizerReset: true})
	require.NoError(t, err)
	require.False(t, ctrl.ResetOptimizersOnTransition())
}

func TestParsePhase(t *testing.T) {
	p, err := training.ParsePhase("maximization")
	require.NoError(t, err)
	require.Equal(t, training.PhaseMaximization, p)
	require.Equal(t, training.PhaseExpectation, p.Other())

	_, err = training.ParsePhase("minimization")
	require.Error(t, err)
}
