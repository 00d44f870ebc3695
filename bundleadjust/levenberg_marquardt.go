package bundleadjust

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sba/logging"
)

const (
	// initialDampingScale is tau: the first damping factor is tau times the largest diagonal entry
	// of J^T J.
	initialDampingScale  = 1e-3
	gradientTolerance    = 1e-12
	stepTolerance        = 1e-12
	initialDampingGrowth = 2
)

// lmRun is the state of one Levenberg-Marquardt run. Only accepted iterates are ever stored.
type lmRun struct {
	problem *problem
	opts    Options
	logger  logging.Logger

	x     []float64
	evals []Evaluation
	ne    *normalEquations

	mu float64
	nu int

	iterations   int
	initialError float64
	history      []IterationStats
}

func newLMRun(p *problem, opts Options, logger logging.Logger) *lmRun {
	return &lmRun{
		problem: p,
		opts:    opts,
		logger:  logger,
		x:       append([]float64(nil), p.initial...),
		nu:      initialDampingGrowth,
	}
}

// run iterates until a termination reason is reached. The context is checked between outer
// iterations; on cancellation the last accepted iterate is kept and Running is returned with the
// context's error.
func (run *lmRun) run(ctx context.Context) (TerminationReason, error) {
	evals, err := run.problem.evaluate(ctx, run.x)
	if err != nil {
		return Running, err
	}
	run.evals = evals
	run.ne = run.problem.buildNormalEquations(evals)
	run.initialError = run.ne.squaredError

	for {
		if err := ctx.Err(); err != nil {
			return Running, err
		}
		run.iterations++
		reason, err := run.iterate(ctx)
		if err != nil {
			return Running, err
		}
		if reason != Running {
			return reason, nil
		}
		if run.iterations >= run.opts.MaxIterations {
			return MaxIterationsReached, nil
		}
	}
}

// iterate performs one outer iteration: tolerance checks on the current iterate followed by damped
// trial steps until one is accepted or the run has to stop.
func (run *lmRun) iterate(ctx context.Context) (TerminationReason, error) {
	e1 := run.ne.squaredError
	if !isFinite(e1) {
		return FailedToConverge, nil
	}
	if run.meanError() < run.opts.AbsoluteTolerance {
		return SmallAbsoluteError, nil
	}
	g := run.ne.gradient()
	if len(g) == 0 || floats.Norm(g, math.Inf(1)) < gradientTolerance {
		return SmallGradient, nil
	}
	if run.iterations == 1 {
		run.mu = initialDampingScale * run.ne.maxDiagonal()
	}

	xNorm := floats.Norm(run.x, 2)
	rejected := 0
	for {
		step, err := run.problem.solveSchur(ctx, run.ne, run.mu)
		if err != nil {
			return Running, err
		}
		if step.conditionEstimate > mat.ConditionTolerance {
			run.logger.Debugw("reduced camera system is ill conditioned",
				"iteration", run.iterations, "condition", step.conditionEstimate, "singular", step.singular, "damping", run.mu)
		}
		if floats.Norm(step.delta, 2) <= stepTolerance*xNorm {
			return SmallStep, nil
		}

		trial := make([]float64, len(run.x))
		floats.AddTo(trial, run.x, step.delta)
		evals, err := run.problem.evaluate(ctx, trial)
		if err != nil {
			return Running, err
		}
		ne := run.problem.buildNormalEquations(evals)
		e2 := ne.squaredError

		dL := predictedReduction(step.delta, run.mu, g)
		dF := e1 - e2
		if dL > 0 && dF > 0 {
			run.mu *= math.Max(1.0/3, 1-math.Pow(2*dF/dL-1, 3))
			run.nu = initialDampingGrowth
			run.x, run.evals, run.ne = trial, evals, ne
			run.history = append(run.history, IterationStats{
				Iteration:         run.iterations,
				ErrorBefore:       e1,
				ErrorAfter:        e2,
				Damping:           run.mu,
				RejectedTrials:    rejected,
				ConditionEstimate: step.conditionEstimate,
			})
			run.logger.Debugw("accepted step",
				"iteration", run.iterations, "error", e2, "damping", run.mu, "rejected", rejected)
			improvement := math.Sqrt(e1) - math.Sqrt(e2)
			if improvement*improvement < run.opts.RelativeTolerance*e1 {
				return SmallRelativeImprovement, nil
			}
			return Running, nil
		}

		rejected++
		if !run.reject() {
			run.logger.Debugw("damping overflowed", "iteration", run.iterations, "damping", run.mu)
			return FailedToConverge, nil
		}
	}
}

// reject grows the damping after a failed trial and reports false once the growth factor overflows.
func (run *lmRun) reject() bool {
	run.mu *= float64(run.nu)
	next := run.nu * 2
	if next <= run.nu {
		return false
	}
	run.nu = next
	return true
}

// meanError is the squared reprojection error per observation.
func (run *lmRun) meanError() float64 {
	if len(run.problem.obs) == 0 {
		return 0
	}
	return run.ne.squaredError / float64(len(run.problem.obs))
}

// predictedReduction is the decrease of the squared error predicted by the damped linear model,
// delta^T (mu delta + g).
func predictedReduction(delta []float64, mu float64, g []float64) float64 {
	var dL float64
	for k, d := range delta {
		dL += d * (mu*d + g[k])
	}
	return dL
}
