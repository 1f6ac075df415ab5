// Package scm simulates tabular data from a structural causal model:
// a DAG plus per-node noise sources and mechanisms mapping parent
// values and noise to the node's value.
package scm

import (
	"sort"

	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// NoiseSource draws the exogenous noise for one node. It is an external
// collaborator: Sample must return exactly n values, and the simulation
// fails with a DataContractError when it does not.
type NoiseSource interface {
	Sample(n int, seed uint64) []float32
}

// Mechanism computes a node's value from its noise and the values of
// its parents, given in ascending node order.
type Mechanism func(noise float32, parents []float32) float32

// SCM is a DAG over nodes 0..d−1 with a noise source and mechanism per
// node. Column j of every simulated table is variable j in canonical
// order, regardless of the causal ordering.
type SCM struct {
	graph      *simple.DirectedGraph
	d          int
	noises     map[int]NoiseSource
	mechanisms map[int]Mechanism
}

func New(d int) (*SCM, error) {
	if d <= 0 {
		return nil, oslow.NewConfigurationError("d", "must be positive, got %d", d)
	}
	g := simple.NewDirectedGraph()
	for v := 0; v < d; v++ {
		g.AddNode(simple.Node(v))
	}
	return &SCM{
		graph:      g,
		d:          d,
		noises:     make(map[int]NoiseSource),
		mechanisms: make(map[int]Mechanism),
	}, nil
}

func (s *SCM) AddEdge(u, v int) error {
	if u < 0 || u >= s.d || v < 0 || v >= s.d {
		return oslow.NewConfigurationError("edge", "(%d,%d) out of range for %d nodes", u, v, s.d)
	}
	if u == v {
		return oslow.NewConfigurationError("edge", "self-loop on node %d", u)
	}
	s.graph.SetEdge(s.graph.NewEdge(simple.Node(u), simple.Node(v)))
	return nil
}

func (s *SCM) SetNoise(v int, ns NoiseSource)  { s.noises[v] = ns }
func (s *SCM) SetMechanism(v int, m Mechanism) { s.mechanisms[v] = m }

func (s *SCM) NumNodes() int { return s.d }

// Edges lists the directed edges as (from, to) pairs.
func (s *SCM) Edges() [][2]int {
	var edges [][2]int
	it := s.graph.Edges()
	for it.Next() {
		e := it.Edge()
		edges = append(edges, [2]int{int(e.From().ID()), int(e.To().ID())})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a][0] != edges[b][0] {
			return edges[a][0] < edges[b][0]
		}
		return edges[a][1] < edges[b][1]
	})
	return edges
}

// Ordering returns a topological ordering of the DAG; a cycle is a
// construction error.
func (s *SCM) Ordering() ([]int, error) {
	nodes, err := topo.Sort(s.graph)
	if err != nil {
		return nil, oslow.NewConfigurationError("dag", "graph is not acyclic: %v", err)
	}
	order := make([]int, len(nodes))
	for i, n := range nodes {
		order[i] = int(n.ID())
	}
	return order, nil
}

func (s *SCM) parents(v int) []int {
	var ps []int
	it := s.graph.To(int64(v))
	for it.Next() {
		ps = append(ps, int(it.Node().ID()))
	}
	sort.Ints(ps)
	return ps
}

// Simulate draws n i.i.d. samples as an n×d table.
func (s *SCM) Simulate(n int, seed uint64) (blas32.General, error) {
	return s.SimulateIntervened(n, seed, nil)
}

// SimulateIntervened simulates with the mechanisms of the intervened
// nodes replaced, walking nodes in topological order so every parent is
// resolved before its children.
func (s *SCM) SimulateIntervened(n int, seed uint64, interventions map[int]Mechanism) (blas32.General, error) {
	if n <= 0 {
		return blas32.General{}, oslow.NewConfigurationError("n", "must be positive, got %d", n)
	}
	order, err := s.Ordering()
	if err != nil {
		return blas32.General{}, err
	}

	vals := make([][]float32, s.d)
	for step, v := range order {
		ns := s.noises[v]
		if ns == nil {
			ns = GaussianNoise{Sigma: 1.0}
		}
		noise := ns.Sample(n, seed+uint64(step))
		if len(noise) != n {
			return blas32.General{}, oslow.NewDataContractError("noise source", "node %d returned %d samples, want %d", v, len(noise), n)
		}

		mech := s.mechanisms[v]
		if m, ok := interventions[v]; ok {
			mech = m
		}
		if mech == nil {
			mech = AdditiveMechanism()
		}

		parents := s.parents(v)
		parentVals := make([][]float32, len(parents))
		for i, u := range parents {
			if vals[u] == nil {
				return blas32.General{}, oslow.NewDataContractError("simulation", "parent %d of node %d has no value yet", u, v)
			}
			parentVals[i] = vals[u]
		}

		col := make([]float32, n)
		row := make([]float32, len(parents))
		for i := 0; i < n; i++ {
			for j := range parents {
				row[j] = parentVals[j][i]
			}
			col[i] = mech(noise[i], row)
		}
		vals[v] = col
	}

	table := matrix.NewZeros(n, s.d)
	for v := 0; v < s.d; v++ {
		for i := 0; i < n; i++ {
			table.Data[matrix.At(table, i, v)] = vals[v][i]
		}
	}
	return table, nil
}

// CountBackward counts the DAG edges pointing from a later position to
// an earlier one under the candidate ordering; zero means the ordering
// is a valid topological order.
func (s *SCM) CountBackward(ordering []int) (int, error) {
	if len(ordering) != s.d {
		return 0, oslow.NewConfigurationError("ordering", "length %d does not match %d nodes", len(ordering), s.d)
	}
	pos := make([]int, s.d)
	for i := range pos {
		pos[i] = -1
	}
	for i, v := range ordering {
		if v < 0 || v >= s.d || pos[v] != -1 {
			return 0, oslow.NewConfigurationError("ordering", "not a permutation of 0..%d", s.d-1)
		}
		pos[v] = i
	}
	count := 0
	for _, e := range s.Edges() {
		if pos[e[0]] > pos[e[1]] {
			count++
		}
	}
	return count, nil
}
