package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies x by s in place.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// LayerNorm normalizes src to zero mean and unit variance, then applies the
// per-element gain and bias.
func LayerNorm(dst, src, gain, bias []float32, eps float32) {
	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= float32(len(src))
	var varsum float32
	for _, v := range src {
		d := v - mean
		varsum += d * d
	}
	varsum /= float32(len(src))
	inv := float32(1.0 / math.Sqrt(float64(varsum+eps)))
	for i := range src {
		dst[i] = (src[i]-mean)*inv*gain[i] + bias[i]
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Relu computes max(0, x).
func Relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Gelu computes the exact Gaussian error linear unit.
func Gelu(x float32) float32 {
	return x * 0.5 * float32(1.0+math.Erf(float64(x)/math.Sqrt2))
}

// GeluTanh computes the tanh approximation of GELU.
func GeluTanh(x float32) float32 {
	x64 := float64(x)
	return float32(0.5 * x64 * (1.0 + math.Tanh(0.7978845608028654*(x64+0.044715*x64*x64*x64))))
}

// Sigmoid computes the logistic sigmoid.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes x * sigmoid(x).
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}
