package bundleadjust

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// singularRcond is the relative singular value cutoff used by the least squares fallback.
const singularRcond = 1e-12

// SolveResult is the outcome of a linear solve. Conditioning problems are described here instead of
// being reported as errors.
type SolveResult struct {
	Value *mat.VecDense
	// ConditionEstimate is the LU estimate of the condition number, +Inf for an exactly singular
	// matrix.
	ConditionEstimate float64
	// Singular is set when the LU factorization broke down and Value is the minimum norm least
	// squares solution instead.
	Singular bool
}

// solveLinear solves a*x = b with an LU factorization, falling back to an SVD least squares solve
// when a is exactly singular.
func solveLinear(a *mat.Dense, b *mat.VecDense) SolveResult {
	var lu mat.LU
	lu.Factorize(a)
	x := &mat.VecDense{}
	err := lu.SolveVecTo(x, false, b)
	if err == nil {
		return SolveResult{Value: x, ConditionEstimate: lu.Cond()}
	}
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		// ill conditioned but solved
		return SolveResult{Value: x, ConditionEstimate: float64(cond)}
	}
	return SolveResult{Value: leastSquares(a, b), ConditionEstimate: math.Inf(1), Singular: true}
}

// leastSquares returns the minimum norm x minimizing |a*x - b|.
func leastSquares(a *mat.Dense, b *mat.VecDense) *mat.VecDense {
	_, n := a.Dims()
	x := mat.NewVecDense(n, nil)
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return x
	}
	rank := svd.Rank(singularRcond)
	if rank == 0 {
		return x
	}
	svd.SolveVecTo(x, b, rank)
	return x
}

// invertBlock inverts a small diagonal block, using the pseudo-inverse when it is exactly singular.
func invertBlock(a *mat.Dense) *mat.Dense {
	var inv mat.Dense
	err := inv.Inverse(a)
	if err == nil {
		return &inv
	}
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		return &inv
	}
	n, _ := a.Dims()
	pinv := mat.NewDense(n, n, nil)
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return pinv
	}
	rank := svd.Rank(singularRcond)
	if rank == 0 {
		return pinv
	}
	id := mat.NewDiagDense(n, nil)
	for d := 0; d < n; d++ {
		id.SetDiag(d, 1)
	}
	svd.SolveTo(pinv, id, rank)
	return pinv
}
