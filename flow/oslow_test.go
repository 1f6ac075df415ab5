package flow_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	orand "github.com/sw965/omw/math/rand"
	"github.com/sw965/oslow/blas32/vector"
	"github.com/sw965/oslow/flow"
	"github.com/sw965/oslow/permutation"
	"gonum.org/v1/gonum/blas/blas32"
)

func newTestModel(t *testing.T, dim, numTransforms int) *flow.OSlow {
	rng := orand.NewMt19937()
	model, err := flow.New(flow.Config{
		InFeatures:    dim,
		NumTransforms: numTransforms,
		Hidden:        []int{4 * dim, 4 * dim},
	}, rng)
	require.NoError(t, err)
	return model
}

func TestAffineTransformRoundTrip(t *testing.T) {
	rng := orand.NewMt19937()
	dim := 3
	model := newTestModel(t, dim, 1)
	tr := model.Transforms[0]

	orderings := [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}}
	for _, ordering := range orderings {
		perm := permutation.OrderingToMatrix(ordering)
		for trial := 0; trial < 8; trial++ {
			x := vector.NewZeros(dim)
			for i := range x.Data {
				x.Data[i] = float32(rng.NormFloat64())
			}

			z, ldForward, _, err := tr.Forward(x, &perm)
			require.NoError(t, err)
			back, ldInverse, err := tr.Inverse(z, &perm)
			require.NoError(t, err)

			for i := range x.Data {
				require.InDelta(t, x.Data[i], back.Data[i], 1e-2, "ordering %v", ordering)
			}
			require.InDelta(t, float64(ldForward), float64(-ldInverse), 1e-2)
		}
	}
}

func TestOSlowSampleInvertsForward(t *testing.T) {
	rng := orand.NewMt19937()
	dim := 3
	model := newTestModel(t, dim, 2)
	perm := permutation.OrderingToMatrix([]int{1, 0, 2})

	x := vector.NewZeros(dim)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}

	z := vector.Clone(x)
	for _, tr := range model.Transforms {
		var err error
		z, _, _, err = tr.Forward(z, &perm)
		require.NoError(t, err)
	}

	back, err := model.Sample(z, &perm)
	require.NoError(t, err)
	for i := range x.Data {
		require.InDelta(t, x.Data[i], back.Data[i], 1e-2)
	}
}

// 数値微分と解析的微分を突き合わせる
func TestLogProbWeightGradient(t *testing.T) {
	rng := orand.NewMt19937()
	dim := 3
	model := newTestModel(t, dim, 1)
	perm := permutation.OrderingToMatrix([]int{2, 0, 1})

	x := vector.NewZeros(dim)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}

	_, backward, err := model.LogProb(x, &perm)
	require.NoError(t, err)

	grad := model.NewGradBuffer(true, false)
	require.NoError(t, backward(1.0, grad))

	params := model.FlatParams()
	grads := grad.FlatGrads()
	require.Equal(t, len(params), len(grads))

	const h = 1e-2
	for pi := range params {
		require.Equal(t, len(params[pi]), len(grads[pi]))
		stride := len(params[pi])/5 + 1
		for j := 0; j < len(params[pi]); j += stride {
			orig := params[pi][j]

			params[pi][j] = orig + h
			plus, _, err := model.LogProb(x, &perm)
			require.NoError(t, err)

			params[pi][j] = orig - h
			minus, _, err := model.LogProb(x, &perm)
			require.NoError(t, err)

			params[pi][j] = orig
			numeric := (plus - minus) / (2 * h)
			require.InDelta(t, float64(numeric), float64(grads[pi][j]), 5e-2, "param %d index %d", pi, j)
		}
	}
}

func TestReinitializeWeightsChangesParams(t *testing.T) {
	rng := orand.NewMt19937()
	model := newTestModel(t, 3, 1)
	before := model.Transforms[0].Made.CloneWeights()

	model.ReinitializeWeights(rng)

	after := model.Transforms[0].Made.FlatParams()
	changed := false
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				changed = true
			}
		}
	}
	require.True(t, changed)
}

func TestLogProbRejectsWrongWidth(t *testing.T) {
	model := newTestModel(t, 3, 1)
	bad := blas32.Vector{N: 4, Inc: 1, Data: make([]float32, 4)}
	_, _, err := model.LogProb(bad, nil)
	require.Error(t, err)
}
