package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"aurorapos/server/internal/models"
)

// OrderSnapshot представляет заказ глазами движка скидок: неизменяемый срез
// состояния, по которому проверяются условия правил
type OrderSnapshot struct {
	OrderID       string
	RestaurantID  string
	CustomerID    string
	Subtotal      decimal.Decimal
	Items         []models.OrderItem
	PaymentMethod string
	OrderType     string
	Channel       string
	PromoCode     string
	Customer      *models.Customer
}

// TotalQuantity возвращает суммарное количество позиций заказа
func (o *OrderSnapshot) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// parseClock разбирает HH:MM в минуты от полуночи
func parseClock(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("ожидается HH:MM, получено %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("некорректный час в %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("некорректная минута в %q", value)
	}
	return hours*60 + minutes, nil
}

// EvaluateTimeConditions проверяет временную секцию условий.
// Окно start > end трактуется как переход через полночь:
// 22:00-02:00 пропускает 23:30 и 01:30, отклоняет 12:00.
func EvaluateTimeConditions(tc *models.TimeConditions, now time.Time) (bool, string) {
	if tc == nil {
		return true, ""
	}

	if tc.Timezone != "" {
		if loc, err := time.LoadLocation(tc.Timezone); err == nil {
			now = now.In(loc)
		}
	}

	if len(tc.DaysOfWeek) > 0 {
		// 0 = понедельник, time.Weekday дает 0 = воскресенье
		day := (int(now.Weekday()) + 6) % 7
		matched := false
		for _, d := range tc.DaysOfWeek {
			if d == day {
				matched = true
				break
			}
		}
		if !matched {
			return false, "день недели вне окна"
		}
	}

	if tc.StartTime != "" && tc.EndTime != "" {
		start, err := parseClock(tc.StartTime)
		if err != nil {
			return false, err.Error()
		}
		end, err := parseClock(tc.EndTime)
		if err != nil {
			return false, err.Error()
		}
		current := now.Hour()*60 + now.Minute()

		var inWindow bool
		if start <= end {
			inWindow = current >= start && current < end
		} else {
			// Окно через полночь
			inWindow = current >= start || current < end
		}
		if !inWindow {
			return false, "время вне окна"
		}
	}

	if len(tc.DateRanges) > 0 {
		today := now.Format("2006-01-02")
		matched := false
		for _, dr := range tc.DateRanges {
			if today >= dr.From && today <= dr.To {
				matched = true
				break
			}
		}
		if !matched {
			return false, "дата вне диапазонов"
		}
	}

	return true, ""
}

// EvaluateItemConditions проверяет секцию условий по составу заказа
func EvaluateItemConditions(ic *models.ItemConditions, order *OrderSnapshot) (bool, string) {
	if ic == nil {
		return true, ""
	}

	if len(ic.MenuItemIDs) > 0 {
		matched := false
		for _, item := range order.Items {
			for _, id := range ic.MenuItemIDs {
				if item.MenuItemID == id {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false, "нет пересечения с требуемыми позициями"
		}
	}

	if len(ic.CategoryIDs) > 0 {
		matched := false
		for _, item := range order.Items {
			for _, id := range ic.CategoryIDs {
				if item.CategoryID == id {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false, "нет позиций требуемых категорий"
		}
	}

	if len(ic.ExcludeItemIDs) > 0 {
		for _, item := range order.Items {
			for _, id := range ic.ExcludeItemIDs {
				if item.MenuItemID == id {
					return false, "заказ содержит исключенную позицию"
				}
			}
		}
	}

	quantity := order.TotalQuantity()
	if ic.MinQuantity > 0 && quantity < ic.MinQuantity {
		return false, "слишком мало позиций"
	}
	if ic.MaxQuantity > 0 && quantity > ic.MaxQuantity {
		return false, "слишком много позиций"
	}

	return true, ""
}

// EvaluateCustomerConditions проверяет секцию условий по клиенту
func EvaluateCustomerConditions(cc *models.CustomerConditions, order *OrderSnapshot, now time.Time) (bool, string) {
	if cc == nil {
		return true, ""
	}

	customer := order.Customer
	if customer == nil {
		// Секция клиента задана, а клиент анонимный
		return false, "клиент не определен"
	}

	if len(cc.LoyaltyTiers) > 0 {
		matched := false
		for _, tier := range cc.LoyaltyTiers {
			if customer.LoyaltyTier == tier {
				matched = true
				break
			}
		}
		if !matched {
			return false, "уровень лояльности не подходит"
		}
	}

	if cc.NewCustomer {
		if customer.TotalOrders > 0 {
			return false, "клиент не новый"
		}
	} else if cc.MinOrders > 0 && customer.TotalOrders < cc.MinOrders {
		return false, "недостаточно заказов в истории"
	}

	if len(cc.Tags) > 0 {
		matched := false
		for _, tag := range cc.Tags {
			if strings.Contains(customer.Tags, `"`+tag+`"`) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "нет требуемых меток клиента"
		}
	}

	if cc.BirthdayMonth {
		if customer.BirthMonth == 0 || customer.BirthMonth != int(now.Month()) {
			return false, "не месяц рождения клиента"
		}
	}

	return true, ""
}

// EvaluateOrderConditions проверяет секцию условий по параметрам заказа
func EvaluateOrderConditions(oc *models.OrderConditions, order *OrderSnapshot) (bool, string) {
	if oc == nil {
		return true, ""
	}

	itemCount := len(order.Items)
	if oc.MinItems > 0 && itemCount < oc.MinItems {
		return false, "слишком мало строк заказа"
	}
	if oc.MaxItems > 0 && itemCount > oc.MaxItems {
		return false, "слишком много строк заказа"
	}

	if len(oc.PaymentMethods) > 0 && !containsString(oc.PaymentMethods, order.PaymentMethod) {
		return false, "способ оплаты не подходит"
	}
	if len(oc.OrderTypes) > 0 && !containsString(oc.OrderTypes, order.OrderType) {
		return false, "тип заказа не подходит"
	}
	if len(oc.Channels) > 0 && !containsString(oc.Channels, order.Channel) {
		return false, "канал заказа не подходит"
	}

	if oc.MinSubtotal > 0 && order.Subtotal.LessThan(decimal.NewFromFloat(oc.MinSubtotal)) {
		return false, "сумма заказа ниже минимума"
	}
	if oc.MaxSubtotal > 0 && order.Subtotal.GreaterThan(decimal.NewFromFloat(oc.MaxSubtotal)) {
		return false, "сумма заказа выше максимума"
	}

	return true, ""
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// ValidateConditions проверяет структурную корректность документа условий
// при создании и изменении правила
func ValidateConditions(conditions *models.RuleConditions, ruleType string) error {
	if conditions == nil {
		return nil
	}

	if tc := conditions.Time; tc != nil {
		for _, d := range tc.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: day_of_week %d вне диапазона 0-6", ErrInvalidConditions, d)
			}
		}
		if (tc.StartTime == "") != (tc.EndTime == "") {
			return fmt.Errorf("%w: start_time и end_time задаются вместе", ErrInvalidConditions)
		}
		if tc.StartTime != "" {
			if _, err := parseClock(tc.StartTime); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConditions, err)
			}
			if _, err := parseClock(tc.EndTime); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConditions, err)
			}
		}
		for _, dr := range tc.DateRanges {
			if _, err := time.Parse("2006-01-02", dr.From); err != nil {
				return fmt.Errorf("%w: некорректная дата %q", ErrInvalidConditions, dr.From)
			}
			if _, err := time.Parse("2006-01-02", dr.To); err != nil {
				return fmt.Errorf("%w: некорректная дата %q", ErrInvalidConditions, dr.To)
			}
			if dr.From > dr.To {
				return fmt.Errorf("%w: диапазон дат %s..%s перевернут", ErrInvalidConditions, dr.From, dr.To)
			}
		}
		if tc.Timezone != "" {
			if _, err := time.LoadLocation(tc.Timezone); err != nil {
				return fmt.Errorf("%w: неизвестный часовой пояс %q", ErrInvalidConditions, tc.Timezone)
			}
		}
	}

	if ic := conditions.Items; ic != nil {
		if ic.MinQuantity < 0 || ic.MaxQuantity < 0 {
			return fmt.Errorf("%w: отрицательные лимиты количества", ErrInvalidConditions)
		}
		if ic.MinQuantity > 0 && ic.MaxQuantity > 0 && ic.MinQuantity > ic.MaxQuantity {
			return fmt.Errorf("%w: min_quantity больше max_quantity", ErrInvalidConditions)
		}
	}

	if cc := conditions.Customer; cc != nil {
		// Взаимоисключение: новый клиент не может иметь историю заказов
		if cc.NewCustomer && cc.MinOrders > 0 {
			return fmt.Errorf("%w: new_customer=true несовместимо с min_orders > 0", ErrInvalidConditions)
		}
		if cc.MinOrders < 0 {
			return fmt.Errorf("%w: отрицательный min_orders", ErrInvalidConditions)
		}
	}

	if oc := conditions.Order; oc != nil {
		if oc.MinItems > 0 && oc.MaxItems > 0 && oc.MinItems > oc.MaxItems {
			return fmt.Errorf("%w: min_items больше max_items", ErrInvalidConditions)
		}
		if oc.MinSubtotal < 0 || oc.MaxSubtotal < 0 {
			return fmt.Errorf("%w: отрицательные границы суммы", ErrInvalidConditions)
		}
	}

	return nil
}
