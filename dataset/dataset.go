// Package dataset turns an n×d data table into shuffled mini-batches of
// sample vectors for the trainer.
package dataset

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/sw965/omw/slicesx"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"gonum.org/v1/gonum/blas/blas32"
)

// Rows splits a table into one vector per sample. The vectors alias
// fresh storage, so callers may mutate them freely.
func Rows(table blas32.General) []blas32.Vector {
	xs := make([]blas32.Vector, table.Rows)
	for i := 0; i < table.Rows; i++ {
		data := make([]float32, table.Cols)
		copy(data, table.Data[i*table.Stride:i*table.Stride+table.Cols])
		xs[i] = blas32.Vector{N: table.Cols, Inc: 1, Data: data}
	}
	return xs
}

// Loader deals a fixed set of samples into mini-batches, reshuffling at
// every epoch. Dim is the number of observed variables; every sample
// must have exactly that width.
type Loader struct {
	Dim       int
	BatchSize int

	samples []blas32.Vector
	rng     *rand.Rand
}

// NewLoader validates the samples against dim and wraps them. A nil rng
// disables shuffling, which keeps evaluation loaders deterministic.
func NewLoader(samples []blas32.Vector, dim, batchSize int, rng *rand.Rand) (*Loader, error) {
	if dim <= 0 {
		return nil, oslow.NewConfigurationError("dim", "must be positive, got %d", dim)
	}
	if batchSize <= 0 {
		return nil, oslow.NewConfigurationError("batchSize", "must be positive, got %d", batchSize)
	}
	if len(samples) == 0 {
		return nil, oslow.NewDataContractError("samples", "empty dataset")
	}
	for i, x := range samples {
		if x.N != dim {
			return nil, oslow.NewDataContractError("samples", "sample %d has width %d, want %d", i, x.N, dim)
		}
	}
	return &Loader{Dim: dim, BatchSize: batchSize, samples: samples, rng: rng}, nil
}

// NewLoaderFromTable is NewLoader over the rows of an n×dim table.
func NewLoaderFromTable(table blas32.General, batchSize int, rng *rand.Rand) (*Loader, error) {
	return NewLoader(Rows(table), table.Cols, batchSize, rng)
}

func (l *Loader) NumSamples() int { return len(l.samples) }

// Batches deals one epoch of mini-batches. The final batch is smaller
// when the batch size does not divide the sample count.
func (l *Loader) Batches() ([][]blas32.Vector, error) {
	n := len(l.samples)
	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	if l.rng != nil {
		idxs = l.rng.Perm(n)
	}

	var batches [][]blas32.Vector
	for i := 0; i < n; i += l.BatchSize {
		end := i + l.BatchSize
		if end > n {
			end = n
		}
		batch, err := slicesx.ElementsByIndices(l.samples, idxs[i:end]...)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// Split partitions a table's rows into train and validation sets by
// ratio, shuffling first so the split is not order-biased.
func Split(table blas32.General, trainRatio float64, rng *rand.Rand) ([]blas32.Vector, []blas32.Vector, error) {
	if trainRatio <= 0.0 || trainRatio > 1.0 {
		return nil, nil, oslow.NewConfigurationError("trainRatio", "must be in (0, 1], got %v", trainRatio)
	}
	xs := Rows(table)
	if rng != nil {
		rng.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
	}
	cut := int(float64(len(xs)) * trainRatio)
	if cut == 0 {
		cut = 1
	}
	return xs[:cut], xs[cut:], nil
}

// Standardize rescales each column of the table to zero mean and unit
// variance in place, the usual preprocessing before flow training.
// Constant columns are left centered.
func Standardize(table blas32.General) {
	for j := 0; j < table.Cols; j++ {
		var mean float32
		for i := 0; i < table.Rows; i++ {
			mean += table.Data[matrix.At(table, i, j)]
		}
		mean /= float32(table.Rows)

		var variance float32
		for i := 0; i < table.Rows; i++ {
			d := table.Data[matrix.At(table, i, j)] - mean
			table.Data[matrix.At(table, i, j)] = d
			variance += d * d
		}
		variance /= float32(table.Rows)
		if variance == 0.0 {
			continue
		}
		inv := 1.0 / math32.Sqrt(variance)
		for i := 0; i < table.Rows; i++ {
			table.Data[matrix.At(table, i, j)] *= inv
		}
	}
}
