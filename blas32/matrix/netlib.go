//go:build netlib

package matrix

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with -tags netlib routes all blas32 calls through the system
// CBLAS instead of the pure-Go implementation.
func init() {
	blas32.Use(netlib.Implementation{})
}
