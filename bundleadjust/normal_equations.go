package bundleadjust

import (
	"gonum.org/v1/gonum/mat"
)

// normalEquations holds the block structure of J^T J and -J^T r for one iterate, where the
// residuals r are ordered by observation.
type normalEquations struct {
	// u[j] = sum_i A_ij^T A_ij, 6x6 per view
	u []*mat.Dense
	// v[i] = sum_j B_ij^T B_ij, 3x3 per point
	v []*mat.Dense
	// w[k] = A^T B for observation k, 6x3
	w []*mat.Dense
	// ea[j] = -sum_i A_ij^T r_ij
	ea []*mat.VecDense
	// eb[i] = -sum_j B_ij^T r_ij
	eb []*mat.VecDense
	// squaredError is sum ||r||^2
	squaredError float64
}

// buildNormalEquations accumulates the blocks in observation order.
func (p *problem) buildNormalEquations(evals []Evaluation) *normalEquations {
	ne := &normalEquations{
		u:  make([]*mat.Dense, p.numViews),
		v:  make([]*mat.Dense, p.numPoints),
		w:  make([]*mat.Dense, len(p.obs)),
		ea: make([]*mat.VecDense, p.numViews),
		eb: make([]*mat.VecDense, p.numPoints),
	}
	for j := range ne.u {
		ne.u[j] = mat.NewDense(poseSize, poseSize, nil)
		ne.ea[j] = mat.NewVecDense(poseSize, nil)
	}
	for i := range ne.v {
		ne.v[i] = mat.NewDense(pointSize, pointSize, nil)
		ne.eb[i] = mat.NewVecDense(pointSize, nil)
	}

	var tmp mat.Dense
	var tmpVec mat.VecDense
	for k, o := range p.obs {
		ev := &evals[k]
		a := mat.NewDense(2, poseSize, append(ev.DPose[0][:], ev.DPose[1][:]...))
		b := mat.NewDense(2, pointSize, append(ev.DPoint[0][:], ev.DPoint[1][:]...))
		r := mat.NewVecDense(2, []float64{ev.Residual[0], ev.Residual[1]})

		tmp.Reset()
		tmp.Mul(a.T(), a)
		ne.u[o.view].Add(ne.u[o.view], &tmp)
		tmp.Reset()
		tmp.Mul(b.T(), b)
		ne.v[o.point].Add(ne.v[o.point], &tmp)

		ne.w[k] = mat.NewDense(poseSize, pointSize, nil)
		ne.w[k].Mul(a.T(), b)

		tmpVec.Reset()
		tmpVec.MulVec(a.T(), r)
		ne.ea[o.view].SubVec(ne.ea[o.view], &tmpVec)
		tmpVec.Reset()
		tmpVec.MulVec(b.T(), r)
		ne.eb[o.point].SubVec(ne.eb[o.point], &tmpVec)

		ne.squaredError += ev.Residual[0]*ev.Residual[0] + ev.Residual[1]*ev.Residual[1]
	}
	return ne
}

// gradient returns [ea; eb] laid out like the parameter vector.
func (ne *normalEquations) gradient() []float64 {
	g := make([]float64, 0, poseSize*len(ne.ea)+pointSize*len(ne.eb))
	for _, e := range ne.ea {
		g = append(g, e.RawVector().Data...)
	}
	for _, e := range ne.eb {
		g = append(g, e.RawVector().Data...)
	}
	return g
}

// maxDiagonal returns the largest diagonal entry over all U and V blocks.
func (ne *normalEquations) maxDiagonal() float64 {
	var m float64
	for _, u := range ne.u {
		for d := 0; d < poseSize; d++ {
			if u.At(d, d) > m {
				m = u.At(d, d)
			}
		}
	}
	for _, v := range ne.v {
		for d := 0; d < pointSize; d++ {
			if v.At(d, d) > m {
				m = v.At(d, d)
			}
		}
	}
	return m
}
