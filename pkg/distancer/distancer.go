// Package distancer implements the swappable point-distance contract
// SPEC_FULL.md section 9 calls for: a sealed sum type behind a single
// interface rather than unbounded polymorphism, so the Vamana graph engine
// never knows whether it is dealing with the scalar or a SIMD kernel.
//
// The Distancer/Provider split below follows the same shape as a
// two-vector squared-distance kernel pair, generalized from squared
// Euclidean distance to the cosine-equivalent dot-product kernel this
// index's greedy search and prune require.
package distancer

import "github.com/pkg/errors"

// Distancer is bound to one query vector and computes distance against
// arbitrary other vectors.
type Distancer interface {
	Distance(b []float32) (float32, bool, error)
}

// Provider is the capability set a point type exposes: a one-shot
// distance, a kernel name, and a Distancer bound to one query vector.
type Provider interface {
	SingleDist(a, b []float32) (float32, bool, error)
	Type() string
	New(a []float32) Distancer
}

// dotImpl is a package variable rather than a plain function so a SIMD
// implementation can replace the dot-product kernel without touching the
// Cosine and CosineProvider methods that call it.
var dotImpl func(a, b []float32) float32 = func(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Cosine is the cosine-equivalent distance: 1 - dot(q, p), correct for
// pre-normalized vectors. It is not a true metric for unnormalized input;
// callers are expected to supply unit vectors, matching SPEC_FULL.md
// section 4.6's "cosine-equivalent for normalized inputs" contract.
type Cosine struct {
	a []float32
}

func (c Cosine) Distance(b []float32) (float32, bool, error) {
	if len(c.a) != len(b) {
		return 0, false, errors.Errorf("distancer: vector lengths don't match: %d vs %d",
			len(c.a), len(b))
	}
	return 1 - dotImpl(c.a, b), true, nil
}

// CosineProvider constructs Cosine distancers.
type CosineProvider struct{}

// NewCosineProvider returns the default provider used by this index.
func NewCosineProvider() CosineProvider {
	return CosineProvider{}
}

func (p CosineProvider) SingleDist(a, b []float32) (float32, bool, error) {
	if len(a) != len(b) {
		return 0, false, errors.Errorf("distancer: vector lengths don't match: %d vs %d",
			len(a), len(b))
	}
	return 1 - dotImpl(a, b), true, nil
}

func (p CosineProvider) Type() string {
	return "cosine-dot"
}

func (p CosineProvider) New(a []float32) Distancer {
	return &Cosine{a: a}
}
