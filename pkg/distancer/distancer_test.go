package distancer

import (
	"math"
	"testing"
)

func TestCosineIdenticalVectorsZeroDistance(t *testing.T) {
	p := NewCosineProvider()
	d, ok, err := p.SingleDist([]float32{1, 0, 0}, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if math.Abs(float64(d)) > 1e-6 {
		t.Fatalf("expected ~0 distance for identical unit vectors, got %f", d)
	}
}

func TestCosineOrthogonalVectors(t *testing.T) {
	p := NewCosineProvider()
	d, _, err := p.SingleDist([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(float64(d)-1) > 1e-6 {
		t.Fatalf("expected distance 1 for orthogonal unit vectors, got %f", d)
	}
}

func TestCosineMismatchedLengthsError(t *testing.T) {
	p := NewCosineProvider()
	if _, _, err := p.SingleDist([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected error for mismatched vector lengths")
	}
}

func TestNewDistancerMatchesSingleDist(t *testing.T) {
	p := NewCosineProvider()
	a := []float32{0.6, 0.8}
	b := []float32{0.8, 0.6}

	want, _, _ := p.SingleDist(a, b)
	got, _, err := p.New(a).Distance(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("New(a).Distance(b) = %f, want %f", got, want)
	}
}
