package tools

import (
	"fmt"
	"math"
)

// Summary describes a numeric series.
type Summary struct {
	N      int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// TTestResult holds a two-sample Welch t-test outcome.
type TTestResult struct {
	T          float64
	DF         float64
	PValue     float64
	EffectSize float64
}

// CorrelationResult holds a Pearson correlation outcome.
type CorrelationResult struct {
	R      float64
	PValue float64
}

// RegressionResult holds a simple linear regression outcome.
type RegressionResult struct {
	Slope     float64
	Intercept float64
	RSquared  float64
	PValue    float64
}

// Describe computes summary statistics for a series.
func Describe(xs []float64) Summary {
	n := len(xs)
	if n == 0 {
		return Summary{}
	}
	s := Summary{N: n, Min: xs[0], Max: xs[0]}
	var sum float64
	for _, x := range xs {
		sum += x
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
	s.Mean = sum / float64(n)
	s.StdDev = stdDev(xs, s.Mean)
	s.Median = median(xs)
	return s
}

// WelchTTest runs a two-sample t-test without assuming equal variances.
// Each sample needs at least two observations.
func WelchTTest(a, b []float64) (TTestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return TTestResult{}, fmt.Errorf("t-test needs at least 2 observations per sample, got %d and %d", len(a), len(b))
	}
	ma, mb := mean(a), mean(b)
	va, vb := variance(a, ma), variance(b, mb)
	na, nb := float64(len(a)), float64(len(b))

	se := math.Sqrt(va/na + vb/nb)
	if se == 0 {
		return TTestResult{T: 0, DF: na + nb - 2, PValue: 1}, nil
	}
	t := (ma - mb) / se

	// Welch-Satterthwaite degrees of freedom
	num := math.Pow(va/na+vb/nb, 2)
	den := math.Pow(va/na, 2)/(na-1) + math.Pow(vb/nb, 2)/(nb-1)
	df := num / den

	pooled := math.Sqrt((va + vb) / 2)
	effect := 0.0
	if pooled > 0 {
		effect = (ma - mb) / pooled
	}
	return TTestResult{T: t, DF: df, PValue: tPValue(t, df), EffectSize: effect}, nil
}

// PearsonCorrelation computes r and its two-sided p-value for paired
// series of equal length >= 3.
func PearsonCorrelation(x, y []float64) (CorrelationResult, error) {
	if len(x) != len(y) {
		return CorrelationResult{}, fmt.Errorf("series lengths differ: %d vs %d", len(x), len(y))
	}
	n := float64(len(x))
	if n < 3 {
		return CorrelationResult{}, fmt.Errorf("correlation needs at least 3 pairs, got %d", len(x))
	}
	mx, my := mean(x), mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return CorrelationResult{R: 0, PValue: 1}, nil
	}
	r := sxy / math.Sqrt(sxx*syy)
	r = math.Max(-1, math.Min(1, r))
	if math.Abs(r) == 1 {
		return CorrelationResult{R: r, PValue: 0}, nil
	}
	t := r * math.Sqrt((n-2)/(1-r*r))
	return CorrelationResult{R: r, PValue: tPValue(t, n-2)}, nil
}

// LinearRegression fits y = slope*x + intercept by least squares.
func LinearRegression(x, y []float64) (RegressionResult, error) {
	if len(x) != len(y) {
		return RegressionResult{}, fmt.Errorf("series lengths differ: %d vs %d", len(x), len(y))
	}
	n := float64(len(x))
	if n < 3 {
		return RegressionResult{}, fmt.Errorf("regression needs at least 3 points, got %d", len(x))
	}
	mx, my := mean(x), mean(y)
	var sxy, sxx float64
	for i := range x {
		sxy += (x[i] - mx) * (y[i] - my)
		sxx += (x[i] - mx) * (x[i] - mx)
	}
	if sxx == 0 {
		return RegressionResult{}, fmt.Errorf("x series is constant")
	}
	slope := sxy / sxx
	intercept := my - slope*mx

	corr, err := PearsonCorrelation(x, y)
	if err != nil {
		return RegressionResult{}, err
	}
	return RegressionResult{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  corr.R * corr.R,
		PValue:    corr.PValue,
	}, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(len(xs)-1)
}

func stdDev(xs []float64, m float64) float64 {
	return math.Sqrt(variance(xs, m))
}

func median(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// tPValue is the two-sided p-value for a t statistic with df degrees of
// freedom, via the regularized incomplete beta function.
func tPValue(t, df float64) float64 {
	if df <= 0 {
		return 1
	}
	x := df / (df + t*t)
	p := regIncBeta(df/2, 0.5, x)
	return math.Max(0, math.Min(1, p))
}

// regIncBeta evaluates I_x(a, b) with a continued fraction expansion.
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lbeta, _ := math.Lgamma(a + b)
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	front := math.Exp(lbeta - la - lb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

// betaCF is the Lentz continued fraction for the incomplete beta.
func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		tiny    = 1e-30
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		aa := fm * (b - fm) * x / ((qam + 2*fm) * (a + 2*fm))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c
		aa = -(a + fm) * (qab + fm) * x / ((a + 2*fm) * (qap + 2*fm))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
