package scm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/scm"
)

func TestSimulateShapesAndDeterminism(t *testing.T) {
	s, err := scm.NewLinearGaussianChain(4, 1.5, 0.5)
	require.NoError(t, err)

	a, err := s.Simulate(200, 42)
	require.NoError(t, err)
	require.Equal(t, 200, a.Rows)
	require.Equal(t, 4, a.Cols)

	b, err := s.Simulate(200, 42)
	require.NoError(t, err)
	require.Equal(t, a.Data, b.Data)

	c, err := s.Simulate(200, 43)
	require.NoError(t, err)
	require.NotEqual(t, a.Data, c.Data)
}

func TestChainPropagatesCauseToEffect(t *testing.T) {
	s, err := scm.NewLinearGaussianChain(3, 2.0, 0.01)
	require.NoError(t, err)
	table, err := s.Simulate(500, 1)
	require.NoError(t, err)

	// x1 ≈ 2*x0, x2 ≈ 2*x1 (ノイズは小さい)
	for i := 0; i < table.Rows; i++ {
		x0 := table.Data[matrix.At(table, i, 0)]
		x1 := table.Data[matrix.At(table, i, 1)]
		x2 := table.Data[matrix.At(table, i, 2)]
		require.InDelta(t, float64(2.0*x0), float64(x1), 0.1)
		require.InDelta(t, float64(2.0*x1), float64(x2), 0.1)
	}
}

func TestInterventionOverridesMechanism(t *testing.T) {
	s, err := scm.NewLinearGaussianChain(3, 1.0, 1.0)
	require.NoError(t, err)

	table, err := s.SimulateIntervened(50, 9, map[int]scm.Mechanism{
		1: scm.ConstantMechanism(7.0),
	})
	require.NoError(t, err)
	for i := 0; i < table.Rows; i++ {
		require.Equal(t, float32(7.0), table.Data[matrix.At(table, i, 1)])
	}
}

type shortNoise struct{}

func (shortNoise) Sample(n int, seed uint64) []float32 {
	return make([]float32, n-1)
}

func TestNoiseCountViolationIsDataContractError(t *testing.T) {
	s, err := scm.New(2)
	require.NoError(t, err)
	require.NoError(t, s.AddEdge(0, 1))
	s.SetNoise(1, shortNoise{})

	_, err = s.Simulate(10, 0)
	require.Error(t, err)
	var dataErr *oslow.DataContractError
	require.True(t, errors.As(err, &dataErr))
}

func TestCountBackward(t *testing.T) {
	// 0→2, 2→1 のDAG
	s, err := scm.New(3)
	require.NoError(t, err)
	require.NoError(t, s.AddEdge(0, 2))
	require.NoError(t, s.AddEdge(2, 1))

	count, err := s.CountBackward([]int{0, 2, 1})
	require.NoError(t, err)
	require.Equal(t, 0, count)

	count, err = s.CountBackward([]int{0, 1, 2})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = s.CountBackward([]int{1, 2, 0})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = s.CountBackward([]int{0, 0, 1})
	require.Error(t, err)
}

func TestConfigurationErrors(t *testing.T) {
	_, err := scm.New(0)
	require.Error(t, err)

	s, err := scm.New(3)
	require.NoError(t, err)
	require.Error(t, s.AddEdge(0, 3))
	require.Error(t, s.AddEdge(1, 1))
}

func TestRandomLinearGaussianIsAcyclic(t *testing.T) {
	s, err := scm.NewRandomLinearGaussian(6, 0.5, 5)
	require.NoError(t, err)
	ordering, err := s.Ordering()
	require.NoError(t, err)

	count, err := s.CountBackward(ordering)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
