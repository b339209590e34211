package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка скидок для /metrics
var (
	pricingRulesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_rules_evaluated_total",
		Help: "Сколько раз правила проверялись на применимость",
	}, []string{"rule_type"})

	pricingRulesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_rules_applied_total",
		Help: "Сколько раз правила реально применены к заказам",
	}, []string{"rule_type"})

	pricingRulesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_rules_skipped_total",
		Help: "Сколько раз правила пропущены, по категориям причин",
	}, []string{"reason"})

	pricingConflictsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_conflicts_resolved_total",
		Help: "Сколько раз выбор между нестекуемыми правилами разрешался стратегией",
	})

	pricingStackedRules = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_stacked_rules_total",
		Help: "Сколько стекуемых правил добавлено поверх выбранного",
	})

	pricingDiscountAmounts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_discount_amount",
		Help:    "Распределение сумм скидок по заказам",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	pricingRulesPerOrder = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_rules_per_order",
		Help:    "Сколько правил применяется к одному заказу",
		Buckets: prometheus.LinearBuckets(0, 1, 8),
	})

	pricingEvaluationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_evaluation_duration_seconds",
		Help:    "Длительность полной оценки правил для заказа",
		Buckets: prometheus.DefBuckets,
	})

	pricingActiveRules = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pricing_active_rules",
		Help: "Число активных правил по ресторанам и типам",
	}, []string{"restaurant_id", "rule_type"})
)
