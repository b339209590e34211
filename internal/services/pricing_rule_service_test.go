package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurorapos/server/internal/models"
)

func newTestPricing() *PricingRuleService {
	return NewPricingRuleService(nil, nil)
}

func activeRule(id, ruleType string, value float64) *models.PricingRule {
	return &models.PricingRule{
		ID:              id,
		Name:            id,
		RuleType:        ruleType,
		Status:          models.RuleStatusActive,
		Priority:        3,
		DiscountValue:   decimal.NewFromFloat(value),
		Conditions:      "{}",
		ExcludedRuleIDs: "[]",
		ValidFrom:       time.Now().Add(-time.Hour),
	}
}

func snapshot(subtotal float64, items ...models.OrderItem) *OrderSnapshot {
	return &OrderSnapshot{
		OrderID:  "order-1",
		Subtotal: decimal.NewFromFloat(subtotal),
		Items:    items,
	}
}

func TestComputeDiscountPercentage(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypePercentage, 10)

	discount := s.computeDiscount(rule, &models.RuleConditions{}, snapshot(100), decimal.NewFromInt(100))
	assert.True(t, discount.Equal(decimal.NewFromInt(10)), "got %s", discount)
}

func TestComputeDiscountFixedCappedBySubtotal(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypeFixed, 25)

	discount := s.computeDiscount(rule, &models.RuleConditions{}, snapshot(15), decimal.NewFromInt(15))
	assert.True(t, discount.Equal(decimal.NewFromInt(15)), "фиксированная скидка не превышает сумму заказа")
}

func TestComputeDiscountMaxDiscountAmount(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypePercentage, 50)
	cap := decimal.NewFromInt(20)
	rule.MaxDiscountAmount = &cap

	discount := s.computeDiscount(rule, &models.RuleConditions{}, snapshot(100), decimal.NewFromInt(100))
	assert.True(t, discount.Equal(cap), "got %s", discount)
}

func TestComputeDiscountCategory(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypeCategory, 20)
	conditions := &models.RuleConditions{
		Items: &models.ItemConditions{CategoryIDs: []string{"cat-pizza"}},
	}
	order := snapshot(60,
		models.OrderItem{MenuItemID: "m-1", CategoryID: "cat-pizza", Quantity: 2, UnitPrice: decimal.NewFromInt(20)},
		models.OrderItem{MenuItemID: "m-2", CategoryID: "cat-drinks", Quantity: 4, UnitPrice: decimal.NewFromInt(5)},
	)

	// 20% только от строк пицц: 40 * 0.2 = 8
	discount := s.computeDiscount(rule, conditions, order, decimal.NewFromInt(60))
	assert.True(t, discount.Equal(decimal.NewFromInt(8)), "got %s", discount)
}

func TestComputeDiscountBOGO(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypeBOGO, 0)
	conditions := &models.RuleConditions{
		Items: &models.ItemConditions{MenuItemIDs: []string{"m-1"}},
	}
	order := snapshot(90,
		models.OrderItem{MenuItemID: "m-1", Quantity: 3, UnitPrice: decimal.NewFromInt(20)},
		models.OrderItem{MenuItemID: "m-2", Quantity: 2, UnitPrice: decimal.NewFromInt(15)},
	)

	// 3 подходящих единицы: одна бесплатна
	discount := s.computeDiscount(rule, conditions, order, decimal.NewFromInt(90))
	assert.True(t, discount.Equal(decimal.NewFromInt(20)), "got %s", discount)
}

func TestComputeDiscountCustomUnregistered(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypeCustom, 0)
	conditions := &models.RuleConditions{Custom: map[string]interface{}{"handler": "nope"}}

	discount := s.computeDiscount(rule, conditions, snapshot(100), decimal.NewFromInt(100))
	assert.True(t, discount.IsZero())
}

func TestComputeDiscountCustomRegistered(t *testing.T) {
	s := newTestPricing()
	s.RegisterCustomDiscount("flat5", func(rule *models.PricingRule, order *OrderSnapshot) decimal.Decimal {
		return decimal.NewFromInt(5)
	})
	rule := activeRule("r-1", models.RuleTypeCustom, 0)
	conditions := &models.RuleConditions{Custom: map[string]interface{}{"handler": "flat5"}}

	discount := s.computeDiscount(rule, conditions, snapshot(100), decimal.NewFromInt(100))
	assert.True(t, discount.Equal(decimal.NewFromInt(5)))
}

func TestEvaluateRulePromoCode(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypePercentage, 10)
	rule.PromoCode = "WELCOME"

	result := s.EvaluateRule(rule, snapshot(100), time.Now())
	assert.False(t, result.Applicable)
	assert.Equal(t, "промокод не предъявлен", result.SkipReason)

	order := snapshot(100)
	order.PromoCode = "WELCOME"
	result = s.EvaluateRule(rule, order, time.Now())
	assert.True(t, result.Applicable)
	assert.True(t, result.DiscountAmount.Equal(decimal.NewFromInt(10)))
}

func TestEvaluateRuleMinOrderAmount(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypePercentage, 10)
	rule.MinOrderAmount = decimal.NewFromInt(50)

	result := s.EvaluateRule(rule, snapshot(30), time.Now())
	assert.False(t, result.Applicable)

	result = s.EvaluateRule(rule, snapshot(80), time.Now())
	assert.True(t, result.Applicable)
}

func TestEvaluateRuleBrokenConditionsDoNotPanic(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-1", models.RuleTypePercentage, 10)
	rule.Conditions = `{"time": {"start_time": 42}}` // Битый документ

	result := s.EvaluateRule(rule, snapshot(100), time.Now())
	assert.False(t, result.Applicable)
	assert.Contains(t, result.SkipReason, "Evaluation error")
}

func applicableResult(s *PricingRuleService, rule *models.PricingRule, order *OrderSnapshot) *RuleEvaluationResult {
	conditions, _ := rule.GetConditions()
	return &RuleEvaluationResult{
		Rule:           rule,
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		Applicable:     true,
		DiscountAmount: s.computeDiscount(rule, conditions, order, order.Subtotal),
	}
}

func TestResolveConflictsHighestDiscount(t *testing.T) {
	s := newTestPricing()
	order := snapshot(100)

	percent := activeRule("r-percent", models.RuleTypePercentage, 10) // $10
	fixed := activeRule("r-fixed", models.RuleTypeFixed, 8)           // $8

	chosen := s.ResolveConflicts(
		[]*RuleEvaluationResult{
			applicableResult(s, percent, order),
			applicableResult(s, fixed, order),
		},
		models.ConflictHighestDiscount, order.Subtotal, order,
	)

	require.Len(t, chosen, 1)
	assert.Equal(t, "r-percent", chosen[0].RuleID)
	assert.True(t, chosen[0].DiscountAmount.Equal(decimal.NewFromInt(10)))
}

func TestResolveConflictsPriorityBased(t *testing.T) {
	s := newTestPricing()
	order := snapshot(100)

	small := activeRule("r-small", models.RuleTypePercentage, 5)
	small.Priority = 1 // Наивысший
	big := activeRule("r-big", models.RuleTypePercentage, 30)
	big.Priority = 4

	chosen := s.ResolveConflicts(
		[]*RuleEvaluationResult{
			applicableResult(s, big, order),
			applicableResult(s, small, order),
		},
		models.ConflictPriorityBased, order.Subtotal, order,
	)

	require.Len(t, chosen, 1)
	assert.Equal(t, "r-small", chosen[0].RuleID)
}

func TestResolveConflictsFirstMatch(t *testing.T) {
	s := newTestPricing()
	order := snapshot(100)

	first := activeRule("r-first", models.RuleTypePercentage, 5)
	second := activeRule("r-second", models.RuleTypePercentage, 30)

	chosen := s.ResolveConflicts(
		[]*RuleEvaluationResult{
			applicableResult(s, first, order),
			applicableResult(s, second, order),
		},
		models.ConflictFirstMatch, order.Subtotal, order,
	)

	require.Len(t, chosen, 1)
	assert.Equal(t, "r-first", chosen[0].RuleID)
}

func TestResolveConflictsCombineAdditive(t *testing.T) {
	s := newTestPricing()
	order := snapshot(100)

	ten := activeRule("r-10", models.RuleTypePercentage, 10)
	twenty := activeRule("r-20", models.RuleTypePercentage, 20)

	chosen := s.ResolveConflicts(
		[]*RuleEvaluationResult{
			applicableResult(s, ten, order),
			applicableResult(s, twenty, order),
		},
		models.ConflictCombineAdditive, order.Subtotal, order,
	)

	// Обе считаются от исходных $100: 10 + 20
	require.Len(t, chosen, 2)
	total := chosen[0].DiscountAmount.Add(chosen[1].DiscountAmount)
	assert.True(t, total.Equal(decimal.NewFromInt(30)), "got %s", total)
}

func TestResolveConflictsCombineMultiplicative(t *testing.T) {
	s := newTestPricing()
	order := snapshot(100)

	first := activeRule("r-1", models.RuleTypePercentage, 10)
	second := activeRule("r-2", models.RuleTypePercentage, 10)

	chosen := s.ResolveConflicts(
		[]*RuleEvaluationResult{
			applicableResult(s, first, order),
			applicableResult(s, second, order),
		},
		models.ConflictCombineMultiplicative, order.Subtotal, order,
	)

	// Вторая считается от остатка: 10 + 9 = 19
	require.Len(t, chosen, 2)
	assert.True(t, chosen[0].DiscountAmount.Equal(decimal.NewFromInt(10)))
	assert.True(t, chosen[1].DiscountAmount.Equal(decimal.NewFromInt(9)), "got %s", chosen[1].DiscountAmount)
}

func TestResolveConflictsStackingWithExclusion(t *testing.T) {
	s := newTestPricing()
	order := snapshot(50)

	// Нестекуемое 20% от $50 = $10
	main := activeRule("r-main", models.RuleTypePercentage, 20)

	// Стекуемое 5% от $50 = $2.50
	loyalty := activeRule("r-loyalty", models.RuleTypePercentage, 5)
	loyalty.Stackable = true

	// Стекуемое, но взаимоисключено с главным
	excluded := activeRule("r-excluded", models.RuleTypePercentage, 15)
	excluded.Stackable = true
	require.NoError(t, excluded.SetExcludedRuleIDs([]string{"r-main"}))

	chosen := s.ResolveConflicts(
		[]*RuleEvaluationResult{
			applicableResult(s, main, order),
			applicableResult(s, loyalty, order),
			applicableResult(s, excluded, order),
		},
		models.ConflictHighestDiscount, order.Subtotal, order,
	)

	require.Len(t, chosen, 2)
	total := decimal.Zero
	for _, r := range chosen {
		total = total.Add(r.DiscountAmount)
	}
	assert.True(t, total.Equal(decimal.NewFromFloat(12.5)), "итого $12.50, got %s", total)
}

func TestRuleIsEffective(t *testing.T) {
	now := time.Now()

	rule := activeRule("r-1", models.RuleTypePercentage, 10)
	assert.True(t, rule.IsEffective(now))

	future := activeRule("r-2", models.RuleTypePercentage, 10)
	future.ValidFrom = now.Add(time.Hour)
	assert.False(t, future.IsEffective(now))

	expired := activeRule("r-3", models.RuleTypePercentage, 10)
	past := now.Add(-time.Minute)
	expired.ValidUntil = &past
	assert.False(t, expired.IsEffective(now))

	exhausted := activeRule("r-4", models.RuleTypePercentage, 10)
	exhausted.MaxUses = 5
	exhausted.CurrentUses = 5
	assert.False(t, exhausted.IsEffective(now))

	inactive := activeRule("r-5", models.RuleTypePercentage, 10)
	inactive.Status = models.RuleStatusInactive
	assert.False(t, inactive.IsEffective(now))
}

func TestCustomerUsageCapClosedForAnonymous(t *testing.T) {
	s := newTestPricing()
	rule := activeRule("r-cap", models.RuleTypePercentage, 10)
	rule.MaxUsesPerCustomer = 1

	// Без идентификатора клиента лимит считается исчерпанным, база не опрашивается
	exhausted, err := s.customerUsageExhausted(rule, "")
	require.NoError(t, err)
	assert.True(t, exhausted)
}
