package classifier

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogisticModel is a binary logistic-regression model over sparse TF-IDF
// vectors. Class 1 is "secret". Read-only after fitting.
type LogisticModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Proba returns the probability of class 1 for a sparse feature vector.
func (m *LogisticModel) Proba(x map[int]float64) float64 {
	z := m.Bias
	for idx, val := range x {
		z += m.Weights[idx] * val
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// fitLogistic trains by full-batch gradient descent on the averaged
// log-loss with L2 regularisation, stopping after maxIter iterations or
// when the gradient norm drops below tol.
func fitLogistic(dim int, xs []map[int]float64, ys []int, maxIter int) *LogisticModel {
	const (
		learningRate = 1.0
		tol          = 1e-5
	)
	n := float64(len(xs))
	if n == 0 {
		return &LogisticModel{Weights: make([]float64, dim)}
	}
	lambda := 1.0 / n // equivalent of C=1.0 on the averaged loss

	m := &LogisticModel{Weights: make([]float64, dim)}
	grad := make([]float64, dim)

	for iter := 0; iter < maxIter; iter++ {
		for i := range grad {
			grad[i] = 0
		}
		var gradBias float64
		for i, x := range xs {
			g := m.Proba(x) - float64(ys[i])
			for idx, val := range x {
				grad[idx] += g * val
			}
			gradBias += g
		}
		floats.Scale(1/n, grad)
		floats.AddScaled(grad, lambda, m.Weights)
		gradBias /= n

		floats.AddScaled(m.Weights, -learningRate, grad)
		m.Bias -= learningRate * gradBias

		if math.Sqrt(floats.Dot(grad, grad)+gradBias*gradBias) < tol {
			break
		}
	}
	return m
}
