package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGiniCoefficientEqualDistribution(t *testing.T) {
	assert.Equal(t, 0.0, GiniCoefficient([]float64{50, 50, 50, 50}))
	assert.Equal(t, 0.0, GiniCoefficient([]float64{1}))
	assert.Equal(t, 0.0, GiniCoefficient(nil))
	assert.Equal(t, 0.0, GiniCoefficient([]float64{0, 0, 0}))
}

func TestGiniCoefficientSkewedDistribution(t *testing.T) {
	// [0, 10]: половина очереди несет весь вес
	assert.InDelta(t, 0.5, GiniCoefficient([]float64{0, 10}), 0.0001)

	// Порядок не влияет
	assert.InDelta(t, GiniCoefficient([]float64{10, 0}), GiniCoefficient([]float64{0, 10}), 0.0001)

	skewed := GiniCoefficient([]float64{1, 1, 1, 97})
	moderate := GiniCoefficient([]float64{20, 25, 25, 30})
	assert.Greater(t, skewed, moderate)
}

func TestFairnessIndex(t *testing.T) {
	assert.Equal(t, 1.0, FairnessIndex([]float64{30, 30, 30}))
	assert.InDelta(t, 0.5, FairnessIndex([]float64{0, 10}), 0.0001)

	// Справедливость растет при выравнивании распределения
	before := FairnessIndex([]float64{5, 5, 90})
	after := FairnessIndex([]float64{30, 30, 40})
	assert.Greater(t, after, before)
}
