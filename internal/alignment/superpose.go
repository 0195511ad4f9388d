// Package alignment superposes two conformations of the same structure and measures
// their global and per-residue root-mean-square deviation.
package alignment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Transform is a proper rigid motion mapping mobile coordinates onto a reference:
// x' = Rotation * (x - MobileCentroid) + ReferenceCentroid.
type Transform struct {
	Rotation          [3][3]float64 `json:"rotation"`
	MobileCentroid    types.Coord   `json:"mobile_centroid"`
	ReferenceCentroid types.Coord   `json:"reference_centroid"`
}

// Apply maps a single mobile coordinate into the reference frame.
func (t Transform) Apply(c types.Coord) types.Coord {
	var centered types.Coord
	for i := 0; i < 3; i++ {
		centered[i] = c[i] - t.MobileCentroid[i]
	}
	var out types.Coord
	for r := 0; r < 3; r++ {
		out[r] = t.Rotation[r][0]*centered[0] + t.Rotation[r][1]*centered[1] + t.Rotation[r][2]*centered[2] +
			t.ReferenceCentroid[r]
	}
	return out
}

// ApplyAll maps every coordinate and returns a new slice.
func (t Transform) ApplyAll(coords []types.Coord) []types.Coord {
	out := make([]types.Coord, len(coords))
	for i, c := range coords {
		out[i] = t.Apply(c)
	}
	return out
}

// Superpose computes the rotation and translation minimizing the mean squared
// displacement between mobile and reference (Kabsch):
//
// Center both sets on their centroids, build the 3x3 cross-covariance H = P^T Q,
// factor H = U S V^T, and take R = V diag(1, 1, d) U^T with d = sign(det(V U^T)),
// so that R is always a proper rotation.
func Superpose(reference, mobile []types.Coord) (Transform, error) {
	if len(reference) != len(mobile) {
		return Transform{}, &TopologyMismatchError{
			Message: fmt.Sprintf("coordinate sets differ in length: %d vs %d", len(reference), len(mobile)),
		}
	}
	if len(reference) == 0 {
		return Transform{}, &Error{Message: "no coordinates to superpose"}
	}

	refCentroid := centroid(reference)
	mobCentroid := centroid(mobile)

	// Cross-covariance of the centered sets.
	h := mat.NewDense(3, 3, nil)
	for i := range reference {
		for r := 0; r < 3; r++ {
			p := mobile[i][r] - mobCentroid[r]
			for c := 0; c < 3; c++ {
				q := reference[i][c] - refCentroid[c]
				h.Set(r, c, h.At(r, c)+p*q)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return Transform{}, &Error{Message: "singular value decomposition did not converge"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1.0
	}

	correction := mat.NewDiagDense(3, []float64{1, 1, d})
	var rot, tmp mat.Dense
	tmp.Mul(&v, correction)
	rot.Mul(&tmp, u.T())

	t := Transform{MobileCentroid: mobCentroid, ReferenceCentroid: refCentroid}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			val := rot.At(r, c)
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return Transform{}, &Error{Message: "rotation contains non-finite values"}
			}
			t.Rotation[r][c] = val
		}
	}
	return t, nil
}

// centroid is the arithmetic mean of a coordinate set.
func centroid(coords []types.Coord) types.Coord {
	var sum types.Coord
	for _, c := range coords {
		sum[0] += c[0]
		sum[1] += c[1]
		sum[2] += c[2]
	}
	n := float64(len(coords))
	return types.Coord{sum[0] / n, sum[1] / n, sum[2] / n}
}

// squaredDistance returns |a - b|^2.
func squaredDistance(a, b types.Coord) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}
