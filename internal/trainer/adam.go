package trainer

import "math"

// adam is a vector Adam optimizer. Scalars pass through as 1-element
// slices.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	m     []float64
	v     []float64
	t     int
}

func newAdam(lr float64, dim int) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, dim),
		v:     make([]float64, dim),
	}
}

// step applies one Adam update to w in place given the gradient of the
// loss.
func (a *adam) step(w, grad []float64) {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i := range w {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*grad[i]
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*grad[i]*grad[i]
		mHat := a.m[i] / bc1
		vHat := a.v[i] / bc2
		w[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}
