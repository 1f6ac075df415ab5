package flow_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	orand "github.com/sw965/omw/math/rand"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/flow"
	"github.com/sw965/oslow/permutation"
)

func positions(ordering []int) []int {
	pos := make([]int, len(ordering))
	for i, v := range ordering {
		pos[v] = i
	}
	return pos
}

func TestMaskedLinearAutoregressiveMask(t *testing.T) {
	rng := orand.NewMt19937()
	dim := 4
	orderings := [][]int{
		{0, 1, 2, 3},
		{2, 0, 3, 1},
		{3, 2, 1, 0},
	}

	for _, auto := range []bool{true, false} {
		outPer := 2
		ml, err := flow.NewMaskedLinear(dim, dim*outPer, dim, auto, rng)
		require.NoError(t, err)

		for _, ordering := range orderings {
			perm := permutation.OrderingToMatrix(ordering)
			pos := positions(ordering)
			mask := ml.Mask(&perm)

			for r := 0; r < dim*outPer; r++ {
				for c := 0; c < dim; c++ {
					rv := r / outPer
					got := mask.Data[matrix.At(mask, r, c)]
					allowed := pos[c] < pos[rv] || (auto && pos[c] == pos[rv])
					if allowed {
						require.Equal(t, float32(1.0), got, "ordering %v r=%d c=%d", ordering, r, c)
					} else {
						require.Equal(t, float32(0.0), got, "ordering %v r=%d c=%d", ordering, r, c)
					}
				}
			}
		}
	}
}

func TestMaskedLinearRejectsBadWidths(t *testing.T) {
	rng := orand.NewMt19937()
	_, err := flow.NewMaskedLinear(3, 5, 3, true, rng)
	require.Error(t, err)
	_, err = flow.NewMaskedLinear(4, 6, 3, true, rng)
	require.Error(t, err)
	_, err = flow.NewMaskedLinear(3, 6, 0, true, rng)
	require.Error(t, err)
}
