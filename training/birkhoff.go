package training

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/permutation"
	"gonum.org/v1/gonum/blas/blas32"
)

// BirkhoffRenderer produces a diagnostic image of where the sampled
// permutations sit inside the Birkhoff polytope. Heavier plotting
// stacks can be plugged in from outside; the Trainer only forwards the
// PNG bytes to the metric sink.
type BirkhoffRenderer interface {
	Render(method permutation.Method, numSamples int, temperature float32) ([]byte, error)
}

// ScatterRenderer projects each sampled doubly-stochastic matrix onto a
// fixed plane through the polytope and draws a scatter PNG. The plane
// is spanned by the centered identity and the centered reversal
// permutation, orthogonalized, so the d! vertices spread out
// deterministically.
type ScatterRenderer struct {
	Size int
}

func (r *ScatterRenderer) size() int {
	if r.Size > 0 {
		return r.Size
	}
	return 256
}

func basisPlane(d int) (blas32.General, blas32.General) {
	center := 1.0 / float32(d)
	u := matrix.NewZeros(d, d)
	v := matrix.NewZeros(d, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			var ui, vi float32
			if i == j {
				ui = 1.0
			}
			if j == d-1-i {
				vi = 1.0
			}
			u.Data[matrix.At(u, i, j)] = ui - center
			v.Data[matrix.At(v, i, j)] = vi - center
		}
	}
	normalize := func(m blas32.General) {
		n := math32.Sqrt(matrix.InnerProduct(m, m))
		if n > 0.0 {
			matrix.Scal(1.0/n, m)
		}
	}
	normalize(u)
	matrix.Axpy(-matrix.InnerProduct(u, v), u, v)
	normalize(v)
	return u, v
}

func (r *ScatterRenderer) Render(method permutation.Method, numSamples int, temperature float32) ([]byte, error) {
	if numSamples <= 0 {
		return nil, oslow.NewConfigurationError("num_samples", "must be positive, got %d", numSamples)
	}
	hard, err := method.SampleHardPermutations(numSamples)
	if err != nil {
		return nil, err
	}
	d := method.Gamma().Rows
	u, v := basisPlane(d)

	size := r.size()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.White)
		}
	}

	// The polytope projection lands inside [-1, 1]² after unit basis
	// normalization.
	plot := func(m blas32.General, c color.Color) {
		px := matrix.InnerProduct(u, m)
		py := matrix.InnerProduct(v, m)
		x := int((px + 1.0) / 2.0 * float32(size-1))
		y := int((py + 1.0) / 2.0 * float32(size-1))
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if x+dx >= 0 && x+dx < size && y+dy >= 0 && y+dy < size {
					img.Set(x+dx, y+dy, c)
				}
			}
		}
	}

	for k := range hard {
		plot(hard[k], color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff})
	}
	ordering, err := method.PermutationWithoutNoise()
	if err != nil {
		return nil, err
	}
	plot(permutation.OrderingToMatrix(ordering), color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
