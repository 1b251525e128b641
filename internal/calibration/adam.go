package calibration

import "math"

// adam is a standard Adam optimizer over a flat parameter vector. The
// calibrator optimizes unconstrained log-weights, so no projection or
// constraint handling is needed here.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	m     []float64
	v     []float64
	t     int
}

func newAdam(lr float64, size int) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

// step applies one in-place update to params given gradients
func (a *adam) step(params, grads []float64) {
	a.t++
	correction1 := 1 - math.Pow(a.beta1, float64(a.t))
	correction2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		mHat := a.m[i] / correction1
		vHat := a.v[i] / correction2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}
