// Package oslow learns a causal topological ordering over the variables of
// an unknown structural causal model by jointly training an
// ordering-conditioned normalizing flow and a differentiable search over
// the Birkhoff polytope of doubly stochastic matrices.
//
// The subpackages split the work as follows:
//
//   - flow: masked autoregressive layers, the affine flow transform and
//     the OSlow density model exposing LogProb(x, permMat).
//   - permutation: Sinkhorn and Gumbel relaxation kernels, the Hungarian
//     assignment solver, and the permutation learning methods
//     (gumbel-top-k, straight-through-sinkhorn, soft-sinkhorn, soft-sort,
//     contrastive-divergence).
//   - training: the alternating Trainer, temperature schedules and the
//     convergence-driven phase controller.
//   - scm: structural causal model simulation for experiments.
//   - dataset: batch loaders feeding the two training phases.
//   - optimizer: momentum and Adam updates plus learning-rate schedules.
//
// This root package only holds the error types shared by the subpackages.
package oslow
