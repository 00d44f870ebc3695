package bundleadjust

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/sba/utils"
)

// schurStep is the update for one damping value.
type schurStep struct {
	// delta is [dcameras; dpoints], laid out like the parameter vector.
	delta             []float64
	conditionEstimate float64
	singular          bool
}

// solveSchur solves the damped normal equations (J^T J + mu I) delta = -J^T r by eliminating the
// point blocks:
//
//	S = blockdiag(U_j + mu I) - sum_i W_ij (V_i + mu I)^-1 W_ik^T
//	e = ea - sum_i W_ij (V_i + mu I)^-1 eb_i
//	S dc = e
//	dp_i = (V_i + mu I)^-1 (eb_i - sum_j W_ij^T dc_j)
//
// The normal equations are not modified. Per point contributions to S and e are accumulated in
// parallel groups and summed in group order.
func (p *problem) solveSchur(ctx context.Context, ne *normalEquations, mu float64) (*schurStep, error) {
	nc := poseSize * p.numViews
	vInv := make([]*mat.Dense, p.numPoints)

	var groupS []*mat.Dense
	var groupE []*mat.VecDense
	err := utils.GroupWorkParallel(
		ctx,
		p.numPoints,
		func(numGroups int) {
			groupS = make([]*mat.Dense, numGroups)
			groupE = make([]*mat.VecDense, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			s := mat.NewDense(nc, nc, nil)
			e := mat.NewVecDense(nc, nil)
			groupS[groupNum] = s
			groupE[groupNum] = e
			var y, c mat.Dense
			var ye mat.VecDense
			return func(memberNum, i int) {
				vi := mat.DenseCopyOf(ne.v[i])
				for d := 0; d < pointSize; d++ {
					vi.Set(d, d, vi.At(d, d)+mu)
				}
				vInv[i] = invertBlock(vi)
				for _, ka := range p.pointObs[i] {
					j := p.obs[ka].view
					y.Reset()
					y.Mul(ne.w[ka], vInv[i])
					for _, kb := range p.pointObs[i] {
						k := p.obs[kb].view
						c.Reset()
						c.Mul(&y, ne.w[kb].T())
						block := s.Slice(j*poseSize, (j+1)*poseSize, k*poseSize, (k+1)*poseSize).(*mat.Dense)
						block.Sub(block, &c)
					}
					ye.Reset()
					ye.MulVec(&y, ne.eb[i])
					seg := e.SliceVec(j*poseSize, (j+1)*poseSize).(*mat.VecDense)
					seg.SubVec(seg, &ye)
				}
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	s := mat.NewDense(nc, nc, nil)
	e := mat.NewVecDense(nc, nil)
	for j := 0; j < p.numViews; j++ {
		block := s.Slice(j*poseSize, (j+1)*poseSize, j*poseSize, (j+1)*poseSize).(*mat.Dense)
		block.Copy(ne.u[j])
		for d := 0; d < poseSize; d++ {
			block.Set(d, d, block.At(d, d)+mu)
		}
		e.SliceVec(j*poseSize, (j+1)*poseSize).(*mat.VecDense).CopyVec(ne.ea[j])
	}
	for g := range groupS {
		s.Add(s, groupS[g])
		e.AddVec(e, groupE[g])
	}

	solved := solveLinear(s, e)
	dc := solved.Value

	step := &schurStep{
		delta:             make([]float64, p.numParams()),
		conditionEstimate: solved.ConditionEstimate,
		singular:          solved.Singular,
	}
	copy(step.delta, dc.RawVector().Data)

	err = utils.GroupWorkParallel(
		ctx,
		p.numPoints,
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var rhs, tmp, dp mat.VecDense
			return func(memberNum, i int) {
				rhs.CloneFromVec(ne.eb[i])
				for _, k := range p.pointObs[i] {
					j := p.obs[k].view
					tmp.Reset()
					tmp.MulVec(ne.w[k].T(), dc.SliceVec(j*poseSize, (j+1)*poseSize))
					rhs.SubVec(&rhs, &tmp)
				}
				dp.Reset()
				dp.MulVec(vInv[i], &rhs)
				copy(step.delta[p.pointOffset(i):], dp.RawVector().Data)
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return step, nil
}
