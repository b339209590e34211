package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurorapos/server/internal/models"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC) // Понедельник
}

func TestTimeWindowRegular(t *testing.T) {
	tc := &models.TimeConditions{StartTime: "09:00", EndTime: "17:00"}

	ok, _ := EvaluateTimeConditions(tc, at(12, 0))
	assert.True(t, ok)

	ok, _ = EvaluateTimeConditions(tc, at(8, 59))
	assert.False(t, ok)

	// Конец окна исключающий
	ok, _ = EvaluateTimeConditions(tc, at(17, 0))
	assert.False(t, ok)
}

func TestTimeWindowMidnightSpanning(t *testing.T) {
	// 22:00-02:00: ночное окно через полночь
	tc := &models.TimeConditions{StartTime: "22:00", EndTime: "02:00"}

	ok, _ := EvaluateTimeConditions(tc, at(23, 30))
	assert.True(t, ok)

	ok, _ = EvaluateTimeConditions(tc, at(1, 30))
	assert.True(t, ok)

	ok, reason := EvaluateTimeConditions(tc, at(12, 0))
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestTimeWindowDaysOfWeek(t *testing.T) {
	// 0 = понедельник
	monday := &models.TimeConditions{DaysOfWeek: []int{0}}
	weekend := &models.TimeConditions{DaysOfWeek: []int{5, 6}}

	ok, _ := EvaluateTimeConditions(monday, at(12, 0))
	assert.True(t, ok, "2024-01-01 - понедельник")

	ok, _ = EvaluateTimeConditions(weekend, at(12, 0))
	assert.False(t, ok)

	sunday := time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	ok, _ = EvaluateTimeConditions(weekend, sunday)
	assert.True(t, ok)
}

func TestTimeWindowDateRanges(t *testing.T) {
	tc := &models.TimeConditions{
		DateRanges: []models.DateRange{{From: "2024-01-01", To: "2024-01-07"}},
	}

	ok, _ := EvaluateTimeConditions(tc, at(12, 0))
	assert.True(t, ok)

	ok, _ = EvaluateTimeConditions(tc, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestCustomerConditionsAnonymous(t *testing.T) {
	order := &OrderSnapshot{Subtotal: decimal.NewFromInt(100)}
	cc := &models.CustomerConditions{MinOrders: 5}

	ok, reason := EvaluateCustomerConditions(cc, order, at(12, 0))
	assert.False(t, ok)
	assert.Equal(t, "клиент не определен", reason)
}

func TestCustomerConditionsNewCustomer(t *testing.T) {
	cc := &models.CustomerConditions{NewCustomer: true}

	fresh := &OrderSnapshot{Customer: &models.Customer{TotalOrders: 0}}
	ok, _ := EvaluateCustomerConditions(cc, fresh, at(12, 0))
	assert.True(t, ok)

	regular := &OrderSnapshot{Customer: &models.Customer{TotalOrders: 12}}
	ok, _ = EvaluateCustomerConditions(cc, regular, at(12, 0))
	assert.False(t, ok)
}

func TestCustomerConditionsTags(t *testing.T) {
	cc := &models.CustomerConditions{Tags: []string{"corporate"}}

	tagged := &OrderSnapshot{Customer: &models.Customer{Tags: `["corporate","partner"]`}}
	ok, _ := EvaluateCustomerConditions(cc, tagged, at(12, 0))
	assert.True(t, ok)

	plain := &OrderSnapshot{Customer: &models.Customer{Tags: `[]`}}
	ok, _ = EvaluateCustomerConditions(cc, plain, at(12, 0))
	assert.False(t, ok)
}

func TestOrderConditionsSubtotalBounds(t *testing.T) {
	oc := &models.OrderConditions{MinSubtotal: 20, MaxSubtotal: 100}

	ok, _ := EvaluateOrderConditions(oc, &OrderSnapshot{Subtotal: decimal.NewFromInt(50)})
	assert.True(t, ok)

	ok, _ = EvaluateOrderConditions(oc, &OrderSnapshot{Subtotal: decimal.NewFromInt(10)})
	assert.False(t, ok)

	ok, _ = EvaluateOrderConditions(oc, &OrderSnapshot{Subtotal: decimal.NewFromInt(150)})
	assert.False(t, ok)
}

func TestItemConditionsQuantityRange(t *testing.T) {
	ic := &models.ItemConditions{MinQuantity: 3}
	order := &OrderSnapshot{Items: []models.OrderItem{
		{MenuItemID: "m-1", Quantity: 2},
		{MenuItemID: "m-2", Quantity: 1},
	}}

	ok, _ := EvaluateItemConditions(ic, order)
	assert.True(t, ok)

	ic.MinQuantity = 4
	ok, _ = EvaluateItemConditions(ic, order)
	assert.False(t, ok)
}

func TestValidateConditionsNewCustomerExclusion(t *testing.T) {
	conditions := &models.RuleConditions{
		Customer: &models.CustomerConditions{NewCustomer: true, MinOrders: 5},
	}
	err := ValidateConditions(conditions, models.RuleTypePercentage)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConditions)
}

func TestValidateConditionsClockFormat(t *testing.T) {
	bad := &models.RuleConditions{
		Time: &models.TimeConditions{StartTime: "25:00", EndTime: "26:00"},
	}
	assert.ErrorIs(t, ValidateConditions(bad, models.RuleTypeHappyHour), ErrInvalidConditions)

	half := &models.RuleConditions{
		Time: &models.TimeConditions{StartTime: "10:00"},
	}
	assert.ErrorIs(t, ValidateConditions(half, models.RuleTypeHappyHour), ErrInvalidConditions)

	good := &models.RuleConditions{
		Time: &models.TimeConditions{StartTime: "22:00", EndTime: "02:00"},
	}
	assert.NoError(t, ValidateConditions(good, models.RuleTypeHappyHour))
}

func TestValidateConditionsDateRange(t *testing.T) {
	reversed := &models.RuleConditions{
		Time: &models.TimeConditions{
			DateRanges: []models.DateRange{{From: "2024-06-01", To: "2024-05-01"}},
		},
	}
	assert.ErrorIs(t, ValidateConditions(reversed, models.RuleTypeTimeBased), ErrInvalidConditions)
}
