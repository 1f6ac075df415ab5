package optimizer_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sw965/oslow/optimizer"
)

func TestMomentumDescendsQuadratic(t *testing.T) {
	opt := optimizer.NewMomentum(0.1)
	w := []float32{5.0}

	for i := 0; i < 300; i++ {
		g := []float32{2.0 * w[0]} // d/dw w²
		require.NoError(t, opt.Step([][]float32{w}, [][]float32{g}))
	}
	require.InDelta(t, 0.0, float64(w[0]), 1e-2)
}

func TestAdamDescendsQuadratic(t *testing.T) {
	opt := optimizer.NewAdam(0.1)
	w := []float32{-3.0}

	for i := 0; i < 300; i++ {
		g := []float32{2.0 * w[0]}
		require.NoError(t, opt.Step([][]float32{w}, [][]float32{g}))
	}
	require.InDelta(t, 0.0, float64(w[0]), 1e-2)
}

func TestStepRejectsShapeMismatch(t *testing.T) {
	opt := optimizer.NewMomentum(0.1)
	err := opt.Step([][]float32{{1, 2}}, [][]float32{{1}})
	require.Error(t, err)
	err = opt.Step([][]float32{{1}}, [][]float32{{1}, {2}})
	require.Error(t, err)
}

func TestResetClearsState(t *testing.T) {
	opt := optimizer.NewMomentum(0.5)
	w := []float32{1.0}
	require.NoError(t, opt.Step([][]float32{w}, [][]float32{{1.0}}))
	opt.Reset()

	w2 := []float32{1.0}
	require.NoError(t, opt.Step([][]float32{w2}, [][]float32{{1.0}}))
	// 速度が消えていれば1ステップ目と同じ更新量になる
	require.InDelta(t, 0.5, float64(w2[0]), 1e-6)
}

func TestExponentialLRDecays(t *testing.T) {
	s := &optimizer.ExponentialLR{Initial: 1.0, Gamma: 0.5}
	require.InDelta(t, 1.0, float64(s.Step(0)), 1e-6)
	require.InDelta(t, 0.5, float64(s.Step(0)), 1e-6)
	require.InDelta(t, 0.25, float64(s.Step(0)), 1e-6)
}

func TestReduceOnPlateau(t *testing.T) {
	s := &optimizer.ReduceOnPlateau{Initial: 1.0, Factor: 0.1, Patience: 2, Eps: 1e-4}
	require.InDelta(t, 1.0, float64(s.Step(10.0)), 1e-6) // 初期化
	require.InDelta(t, 1.0, float64(s.Step(9.0)), 1e-6)  // 改善
	require.InDelta(t, 1.0, float64(s.Step(9.0)), 1e-6)  // 停滞1
	require.InDelta(t, 0.1, float64(s.Step(9.0)), 1e-6)  // 停滞2で減衰
}
