package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aurorapos/server/internal/models"
)

func TestApplyScoreCurveLinear(t *testing.T) {
	sc := &models.ScoreConfig{Type: models.ScoreCurveLinear, BaseScore: 10, Multiplier: 2}

	assert.Equal(t, 10.0, ApplyScoreCurve(sc, 0))
	assert.Equal(t, 30.0, ApplyScoreCurve(sc, 10))
}

func TestApplyScoreCurveExponentialDefaultExponent(t *testing.T) {
	// Степень по умолчанию 2
	sc := &models.ScoreConfig{Type: models.ScoreCurveExponential, Multiplier: 1}
	assert.Equal(t, 25.0, ApplyScoreCurve(sc, 5))

	cubic := &models.ScoreConfig{Type: models.ScoreCurveExponential, Multiplier: 1, Exponent: 3}
	assert.Equal(t, 27.0, ApplyScoreCurve(cubic, 3))
}

func TestApplyScoreCurveLogarithmic(t *testing.T) {
	sc := &models.ScoreConfig{Type: models.ScoreCurveLogarithmic, BaseScore: 5, Multiplier: 10}

	// Неположительное значение дает базовый балл
	assert.Equal(t, 5.0, ApplyScoreCurve(sc, 0))
	assert.Equal(t, 5.0, ApplyScoreCurve(sc, -3))
	assert.InDelta(t, 5+10*0.6931, ApplyScoreCurve(sc, 1), 0.001)
}

func TestApplyScoreCurveStep(t *testing.T) {
	sc := &models.ScoreConfig{
		Type: models.ScoreCurveStep,
		Steps: [][2]float64{
			{5, 10},  // До 5 минут: 10 баллов
			{15, 40}, // До 15 минут: 40 баллов
			{30, 80}, // До 30 минут: 80 баллов
		},
		DefaultScore: 100,
	}

	assert.Equal(t, 10.0, ApplyScoreCurve(sc, 3))
	assert.Equal(t, 40.0, ApplyScoreCurve(sc, 5))
	assert.Equal(t, 40.0, ApplyScoreCurve(sc, 12))
	assert.Equal(t, 80.0, ApplyScoreCurve(sc, 29))
	assert.Equal(t, 100.0, ApplyScoreCurve(sc, 45), "за последней ступенью - запасной балл")
}

func TestApplyScoreCurveUnknownType(t *testing.T) {
	sc := &models.ScoreConfig{Type: "mystery", DefaultScore: 7}
	assert.Equal(t, 7.0, ApplyScoreCurve(sc, 100))
}

func TestScoreCurveIdempotence(t *testing.T) {
	// Одинаковый вход дает бит-в-бит одинаковый результат
	sc := &models.ScoreConfig{Type: models.ScoreCurveExponential, BaseScore: 3, Multiplier: 1.7, Exponent: 1.3}
	first := ApplyScoreCurve(sc, 12.34)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ApplyScoreCurve(sc, 12.34))
	}
}

func TestAggregateMethods(t *testing.T) {
	values := []float64{10, 40, 25}

	assert.Equal(t, 75.0, aggregate(models.AggregationWeightedSum, values))
	assert.Equal(t, 40.0, aggregate(models.AggregationMax, values))
	assert.Equal(t, 10.0, aggregate(models.AggregationMin, values))
	assert.Equal(t, 25.0, aggregate(models.AggregationAverage, values))
	assert.Equal(t, 10000.0, aggregate(models.AggregationMultiply, values))
	assert.Equal(t, 0.0, aggregate(models.AggregationWeightedSum, nil))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 100))
	assert.Equal(t, 100.0, clamp(250, 0, 100))
	assert.Equal(t, 42.0, clamp(42, 0, 100))
}

func TestScoreTier(t *testing.T) {
	assert.Equal(t, "high", scoreTier(80))
	assert.Equal(t, "high", scoreTier(95))
	assert.Equal(t, "medium", scoreTier(50))
	assert.Equal(t, "medium", scoreTier(79.9))
	assert.Equal(t, "low", scoreTier(49.9))
	assert.Equal(t, "low", scoreTier(0))
}
