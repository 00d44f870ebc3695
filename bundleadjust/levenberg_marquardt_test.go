package bundleadjust

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sba/logging"
	"go.viam.com/sba/rimage/transform"
)

type constantEvaluator struct {
	residual float64
}

func (ce constantEvaluator) Evaluate(r3.Vector, PoseParams, r2.Point, *transform.PinholeCameraModel) Evaluation {
	return Evaluation{Residual: [2]float64{ce.residual, ce.residual}}
}

// scriptedEvaluator reprojects normally except for calls numbered in (nanFrom, nanUntil], which
// return non-finite residuals. A zero nanUntil never ends the non-finite stretch.
type scriptedEvaluator struct {
	ReprojectionEvaluator
	calls    *atomic.Int64
	nanFrom  int64
	nanUntil int64
}

func (se scriptedEvaluator) Evaluate(
	point r3.Vector, pose PoseParams, observed r2.Point, camera *transform.PinholeCameraModel,
) Evaluation {
	n := se.calls.Add(1)
	if n > se.nanFrom && (se.nanUntil == 0 || n <= se.nanUntil) {
		return Evaluation{Residual: [2]float64{math.NaN(), math.NaN()}}
	}
	return se.ReprojectionEvaluator.Evaluate(point, pose, observed, camera)
}

// primedRun evaluates the starting point of a perturbed problem and leaves the run at the start
// of its first outer iteration.
func primedRun(t *testing.T, opts Options) *lmRun {
	t.Helper()
	p := perturbedProblem(t, opts)
	run := newLMRun(p, opts, logging.NewTestLogger(t))
	evals, err := p.evaluate(context.Background(), run.x)
	test.That(t, err, test.ShouldBeNil)
	run.evals = evals
	run.ne = p.buildNormalEquations(evals)
	run.initialError = run.ne.squaredError
	run.iterations = 1
	return run
}

func runFor(t *testing.T, opts Options) (*lmRun, TerminationReason) {
	t.Helper()
	p := perturbedProblem(t, opts)
	run := newLMRun(p, opts, logging.NewTestLogger(t))
	reason, err := run.run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	return run, reason
}

func TestLMNonFiniteErrorFails(t *testing.T) {
	opts := DefaultOptions()
	opts.Evaluator = constantEvaluator{residual: math.NaN()}
	run, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldEqual, FailedToConverge)
	test.That(t, run.iterations, test.ShouldEqual, 1)
	test.That(t, run.x, test.ShouldResemble, run.problem.initial)
	test.That(t, run.history, test.ShouldBeEmpty)
}

func TestLMSmallAbsoluteError(t *testing.T) {
	opts := DefaultOptions()
	opts.Evaluator = constantEvaluator{residual: 0.5}
	_, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldEqual, SmallAbsoluteError)
}

func TestLMSmallGradient(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	opts.Evaluator = constantEvaluator{residual: 3}
	run, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldEqual, SmallGradient)
	test.That(t, run.iterations, test.ShouldEqual, 1)
}

func TestLMMaxIterations(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	opts.RelativeTolerance = 0
	opts.MaxIterations = 2
	run, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldEqual, MaxIterationsReached)
	test.That(t, run.iterations, test.ShouldEqual, 2)
	test.That(t, len(run.history), test.ShouldEqual, 2)
}

func TestLMAcceptedStepsDecreaseError(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	opts.RelativeTolerance = 1e-12
	opts.MaxIterations = 100
	run, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldNotEqual, FailedToConverge)
	test.That(t, reason, test.ShouldNotEqual, MaxIterationsReached)
	test.That(t, run.history, test.ShouldNotBeEmpty)

	prev := run.initialError
	for _, h := range run.history {
		test.That(t, h.ErrorBefore, test.ShouldEqual, prev)
		test.That(t, h.ErrorAfter, test.ShouldBeLessThan, h.ErrorBefore)
		test.That(t, h.Damping, test.ShouldBeGreaterThan, 0)
		prev = h.ErrorAfter
	}
	test.That(t, run.ne.squaredError, test.ShouldEqual, prev)
	test.That(t, run.ne.squaredError, test.ShouldBeLessThan, run.initialError)
}

func TestLMReject(t *testing.T) {
	run := &lmRun{mu: 1, nu: initialDampingGrowth}
	test.That(t, run.reject(), test.ShouldBeTrue)
	test.That(t, run.mu, test.ShouldEqual, 2.)
	test.That(t, run.nu, test.ShouldEqual, 4)
	test.That(t, run.reject(), test.ShouldBeTrue)
	test.That(t, run.mu, test.ShouldEqual, 8.)
	test.That(t, run.nu, test.ShouldEqual, 8)

	// the growth factor doubles until it overflows
	var calls int
	for run.reject() {
		calls++
		test.That(t, calls, test.ShouldBeLessThan, 100)
	}
	test.That(t, run.nu, test.ShouldBeGreaterThan, 0)
}

func TestLMCanceled(t *testing.T) {
	opts := DefaultOptions()
	p := perturbedProblem(t, opts)
	run := newLMRun(p, opts, logging.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reason, err := run.run(ctx)
	test.That(t, err, test.ShouldEqual, context.Canceled)
	test.That(t, reason, test.ShouldEqual, Running)
	test.That(t, run.ne, test.ShouldBeNil)
}

func TestPredictedReduction(t *testing.T) {
	delta := []float64{1, -2}
	g := []float64{3, 4}
	// 1*(2*1+3) + -2*(2*-2+4)
	test.That(t, predictedReduction(delta, 2, g), test.ShouldEqual, 5.)
}

func TestTerminationReasonString(t *testing.T) {
	test.That(t, SmallStep.String(), test.ShouldEqual, "small step")
	test.That(t, FailedToConverge.String(), test.ShouldEqual, "failed to converge")
	test.That(t, TerminationReason(42).String(), test.ShouldEqual, "unknown")
	test.That(t, SmallRelativeImprovement.Converged(), test.ShouldBeTrue)
	test.That(t, MaxIterationsReached.Converged(), test.ShouldBeFalse)
	test.That(t, Running.Converged(), test.ShouldBeFalse)
}

func TestLMFirstIterationDamping(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	opts.RelativeTolerance = 0
	run := primedRun(t, opts)
	run.mu = 12345
	run.nu = 16
	ctx := context.Background()

	mu0 := initialDampingScale * run.ne.maxDiagonal()
	test.That(t, mu0, test.ShouldBeGreaterThan, 0)

	// walk the trial sequence the run is expected to take from mu0
	g := run.ne.gradient()
	mu, nu, rejected := mu0, 16, 0
	var want float64
	for {
		step, err := run.problem.solveSchur(ctx, run.ne, mu)
		test.That(t, err, test.ShouldBeNil)
		trial := make([]float64, len(run.x))
		for k := range trial {
			trial[k] = run.x[k] + step.delta[k]
		}
		evals, err := run.problem.evaluate(ctx, trial)
		test.That(t, err, test.ShouldBeNil)
		dF := run.ne.squaredError - run.problem.buildNormalEquations(evals).squaredError
		dL := predictedReduction(step.delta, mu, g)
		if dL > 0 && dF > 0 {
			want = mu * math.Max(1.0/3, 1-math.Pow(2*dF/dL-1, 3))
			break
		}
		mu *= float64(nu)
		nu *= 2
		rejected++
		test.That(t, rejected, test.ShouldBeLessThan, 60)
	}

	reason, err := run.iterate(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reason, test.ShouldEqual, Running)
	test.That(t, run.history, test.ShouldHaveLength, 1)
	test.That(t, run.history[0].RejectedTrials, test.ShouldEqual, rejected)
	test.That(t, run.history[0].Damping, test.ShouldAlmostEqual, want, want*1e-9)
	test.That(t, run.mu, test.ShouldEqual, run.history[0].Damping)
	test.That(t, run.history[0].Damping, test.ShouldBeGreaterThanOrEqualTo, mu/3*(1-1e-12))
	test.That(t, run.nu, test.ShouldEqual, initialDampingGrowth)
}

func TestLMNonFiniteTrialIsRejected(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	opts.RelativeTolerance = 0
	numObs := int64(len(perturbedProblem(t, opts).obs))
	// the first trial evaluates to NaN, the second one is finite
	opts.Evaluator = scriptedEvaluator{calls: &atomic.Int64{}, nanFrom: numObs, nanUntil: 2 * numObs}
	run := primedRun(t, opts)
	start := append([]float64(nil), run.x...)

	reason, err := run.iterate(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reason, test.ShouldEqual, Running)
	test.That(t, run.history, test.ShouldHaveLength, 1)
	h := run.history[0]
	test.That(t, h.RejectedTrials, test.ShouldEqual, 1)
	test.That(t, isFinite(h.ErrorAfter), test.ShouldBeTrue)
	test.That(t, h.ErrorAfter, test.ShouldBeLessThan, h.ErrorBefore)
	test.That(t, run.ne.squaredError, test.ShouldEqual, h.ErrorAfter)
	test.That(t, run.x, test.ShouldNotResemble, start)
	test.That(t, run.nu, test.ShouldEqual, initialDampingGrowth)
}

func TestLMNonFiniteTrialsKeepIterate(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	numObs := int64(len(perturbedProblem(t, opts).obs))
	opts.Evaluator = scriptedEvaluator{calls: &atomic.Int64{}, nanFrom: numObs}
	run, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldBeIn, FailedToConverge, SmallStep)
	test.That(t, run.iterations, test.ShouldEqual, 1)
	test.That(t, run.history, test.ShouldBeEmpty)
	test.That(t, run.x, test.ShouldResemble, run.problem.initial)
	test.That(t, run.ne.squaredError, test.ShouldEqual, run.initialError)
}

func TestLMDampingOverflowFails(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	numObs := int64(len(perturbedProblem(t, opts).obs))
	opts.Evaluator = scriptedEvaluator{calls: &atomic.Int64{}, nanFrom: numObs}
	p := perturbedProblem(t, opts)
	run := newLMRun(p, opts, logging.NewTestLogger(t))
	// one more doubling overflows the growth factor
	run.nu = math.MaxInt/2 + 1

	reason, err := run.run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reason, test.ShouldEqual, FailedToConverge)
	test.That(t, run.iterations, test.ShouldEqual, 1)
	test.That(t, run.history, test.ShouldBeEmpty)
	test.That(t, run.x, test.ShouldResemble, p.initial)
	test.That(t, run.ne.squaredError, test.ShouldEqual, run.initialError)
}

func TestLMSmallRelativeImprovement(t *testing.T) {
	opts := DefaultOptions()
	opts.AbsoluteTolerance = 0
	// any accepted step with a nonzero error left improves by less than the whole error
	opts.RelativeTolerance = 1
	run, reason := runFor(t, opts)
	test.That(t, reason, test.ShouldEqual, SmallRelativeImprovement)
	test.That(t, run.iterations, test.ShouldEqual, 1)
	test.That(t, run.history, test.ShouldHaveLength, 1)
	test.That(t, run.history[0].ErrorAfter, test.ShouldBeGreaterThan, 0)
}
