package comparison

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Method names the t-test variant.
type Method string

const (
	// Student is the pooled-variance t-test assuming equal variances.
	Student Method = "student"

	// Welch does not assume equal variances.
	Welch Method = "welch"
)

// Result is the outcome of a two-sample test.
type Result struct {
	// Statistic is the t statistic; NaN when undefined
	Statistic float64

	// PValue is the two-sided p-value in [0, 1]; NaN when undefined
	PValue float64

	// DF is the degrees of freedom of the reference t distribution
	DF float64

	Method Method
}

// TestGroups runs the default (Student, pooled-variance) t-test between the
// treated and control deltas.
func TestGroups(treated, control []float64) (Result, error) {
	return TwoSampleTTest(treated, control, true)
}

// TwoSampleTTest runs an independent two-sample t-test on a and b and returns
// the statistic with its two-sided p-value. The sign follows mean(a)-mean(b),
// so swapping the inputs negates the statistic and keeps the p-value.
//
// When the statistic is undefined the returned Result holds NaN values and the
// error wraps ErrInsufficientSampleSize.
func TwoSampleTTest(a, b []float64, equalVar bool) (Result, error) {
	res := Result{Statistic: math.NaN(), PValue: math.NaN(), DF: math.NaN(), Method: Student}
	if !equalVar {
		res.Method = Welch
	}

	n1, n2 := float64(len(a)), float64(len(b))
	if len(a) < 2 || len(b) < 2 {
		return res, fmt.Errorf("%w: groups of %d and %d values, need at least 2 each",
			ErrInsufficientSampleSize, len(a), len(b))
	}

	mean1, var1 := stat.MeanVariance(a, nil)
	mean2, var2 := stat.MeanVariance(b, nil)

	var se2 float64
	if equalVar {
		res.DF = n1 + n2 - 2
		pooled := ((n1-1)*var1 + (n2-1)*var2) / res.DF
		se2 = pooled * (1/n1 + 1/n2)
	} else {
		v1, v2 := var1/n1, var2/n2
		se2 = v1 + v2
		res.DF = se2 * se2 / (v1*v1/(n1-1) + v2*v2/(n2-1))
	}

	if se2 == 0 || math.IsNaN(se2) {
		res.DF = math.NaN()
		return res, fmt.Errorf("%w: zero variance in both groups", ErrInsufficientSampleSize)
	}

	res.Statistic = (mean1 - mean2) / math.Sqrt(se2)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: res.DF}
	res.PValue = math.Min(1, 2*dist.CDF(-math.Abs(res.Statistic)))
	return res, nil
}
