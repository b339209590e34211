package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
)

// CustomDiscountFunc считает скидку для правил типа CUSTOM.
// Хуки регистрируются при старте процесса, пользовательский код не исполняется.
type CustomDiscountFunc func(rule *models.PricingRule, order *OrderSnapshot) decimal.Decimal

// RuleEvaluationResult представляет итог проверки одного правила
type RuleEvaluationResult struct {
	Rule           *models.PricingRule `json:"-"`
	RuleID         string              `json:"rule_id"`
	RuleName       string              `json:"rule_name"`
	Applicable     bool                `json:"applicable"`
	ConditionsMet  map[string]bool     `json:"conditions_met"`
	SkipReason     string              `json:"skip_reason,omitempty"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
}

// TraceEntry представляет одну запись отладочной трассы оценки
type TraceEntry struct {
	Event      string          `json:"event"`
	RuleID     string          `json:"rule_id"`
	RuleName   string          `json:"rule_name"`
	Applicable bool            `json:"applicable"`
	Conditions map[string]bool `json:"conditions"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Discount   string          `json:"discount"`
}

// EvaluationOutcome представляет итог работы движка по заказу
type EvaluationOutcome struct {
	OrderID        string                          `json:"order_id"`
	Subtotal       decimal.Decimal                 `json:"subtotal"`
	TotalDiscount  decimal.Decimal                 `json:"total_discount"`
	FinalAmount    decimal.Decimal                 `json:"final_amount"`
	Applications   []models.PricingRuleApplication `json:"applications"`
	Applied        []*RuleEvaluationResult         `json:"applied"`
	Skipped        []*RuleEvaluationResult         `json:"skipped"`
	AlreadyApplied bool                            `json:"already_applied"`
	Trace          []TraceEntry                    `json:"trace,omitempty"`
}

// PricingRuleService оценивает ценовые правила против заказов, разрешает
// конфликты и фиксирует применения. Ошибка оценки одного правила не валит
// остальные: правило попадает в пропущенные с причиной.
type PricingRuleService struct {
	db              *gorm.DB
	cfg             *config.Config
	defaultStrategy string
	customDiscounts map[string]CustomDiscountFunc
}

// NewPricingRuleService создает движок ценовых правил
func NewPricingRuleService(db *gorm.DB, cfg *config.Config) *PricingRuleService {
	return &PricingRuleService{
		db:              db,
		cfg:             cfg,
		defaultStrategy: models.ConflictHighestDiscount,
		customDiscounts: make(map[string]CustomDiscountFunc),
	}
}

// RegisterCustomDiscount регистрирует хук расчета скидки для CUSTOM правил.
// Ключ сверяется с conditions.custom["handler"] правила.
func (s *PricingRuleService) RegisterCustomDiscount(name string, fn CustomDiscountFunc) {
	s.customDiscounts[name] = fn
	log.Printf("✅ Зарегистрирован обработчик скидки: %s", name)
}

// SetDefaultConflictResolution задает стратегию ресторана по умолчанию
func (s *PricingRuleService) SetDefaultConflictResolution(strategy string) {
	s.defaultStrategy = strategy
}

// fetchCandidates загружает действующие правила ресторана по приоритету
func (s *PricingRuleService) fetchCandidates(restaurantID string, now time.Time) ([]models.PricingRule, error) {
	var rules []models.PricingRule
	err := s.db.Where("restaurant_id = ? AND status = ? AND valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)",
		restaurantID, models.RuleStatusActive, now, now).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки правил: %w", err)
	}

	effective := rules[:0]
	for _, rule := range rules {
		if rule.IsEffective(now) {
			effective = append(effective, rule)
		}
	}
	return effective, nil
}

// EvaluateRule проверяет одно правило против заказа. Секции условий
// соединяются по И, проверка обрывается на первой несработавшей.
func (s *PricingRuleService) EvaluateRule(rule *models.PricingRule, order *OrderSnapshot, now time.Time) *RuleEvaluationResult {
	result := &RuleEvaluationResult{
		Rule:           rule,
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		ConditionsMet:  make(map[string]bool),
		DiscountAmount: decimal.Zero,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Applicable = false
			result.SkipReason = fmt.Sprintf("Evaluation error: %v", r)
			log.Printf("❌ Ошибка оценки правила %s: %v", rule.ID, r)
		}
	}()

	if rule.PromoCode != "" && rule.PromoCode != order.PromoCode {
		result.SkipReason = "промокод не предъявлен"
		return result
	}

	if rule.MinOrderAmount.GreaterThan(decimal.Zero) && order.Subtotal.LessThan(rule.MinOrderAmount) {
		result.SkipReason = "сумма заказа ниже min_order_amount"
		return result
	}

	conditions, err := rule.GetConditions()
	if err != nil {
		result.SkipReason = fmt.Sprintf("Evaluation error: %v", err)
		return result
	}

	if ok, reason := EvaluateTimeConditions(conditions.Time, now); !ok {
		result.ConditionsMet["time"] = false
		result.SkipReason = reason
		return result
	}
	if conditions.Time != nil {
		result.ConditionsMet["time"] = true
	}

	if ok, reason := EvaluateItemConditions(conditions.Items, order); !ok {
		result.ConditionsMet["items"] = false
		result.SkipReason = reason
		return result
	}
	if conditions.Items != nil {
		result.ConditionsMet["items"] = true
	}

	if ok, reason := EvaluateCustomerConditions(conditions.Customer, order, now); !ok {
		result.ConditionsMet["customer"] = false
		result.SkipReason = reason
		return result
	}
	if conditions.Customer != nil {
		result.ConditionsMet["customer"] = true
	}

	if ok, reason := EvaluateOrderConditions(conditions.Order, order); !ok {
		result.ConditionsMet["order"] = false
		result.SkipReason = reason
		return result
	}
	if conditions.Order != nil {
		result.ConditionsMet["order"] = true
	}

	discount := s.computeDiscount(rule, conditions, order, order.Subtotal)
	if discount.LessThanOrEqual(decimal.Zero) {
		result.SkipReason = "скидка нулевая"
		return result
	}

	result.Applicable = true
	result.DiscountAmount = discount
	return result
}

// computeDiscount считает скидку правила от переданной базы.
// База равна subtotal, кроме мультипликативного комбинирования,
// где процентные правила пересчитываются от остатка.
func (s *PricingRuleService) computeDiscount(rule *models.PricingRule, conditions *models.RuleConditions, order *OrderSnapshot, base decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	hundred := decimal.NewFromInt(100)

	switch rule.RuleType {
	case models.RuleTypePercentage, models.RuleTypeHappyHour, models.RuleTypeTimeBased, models.RuleTypeQuantity:
		discount = base.Mul(rule.DiscountValue).Div(hundred)

	case models.RuleTypeFixed:
		discount = rule.DiscountValue
		if discount.GreaterThan(base) {
			discount = base
		}

	case models.RuleTypeCategory:
		// Процент только от строк требуемых категорий
		categoryTotal := decimal.Zero
		categoryIDs := []string{}
		if conditions.Items != nil {
			categoryIDs = conditions.Items.CategoryIDs
		}
		for _, item := range order.Items {
			if containsString(categoryIDs, item.CategoryID) {
				categoryTotal = categoryTotal.Add(item.LineTotal())
			}
		}
		discount = categoryTotal.Mul(rule.DiscountValue).Div(hundred)

	case models.RuleTypeBOGO:
		// Каждая вторая единица подходящей позиции бесплатна
		menuItemIDs := []string{}
		if conditions.Items != nil {
			menuItemIDs = conditions.Items.MenuItemIDs
		}
		for _, item := range order.Items {
			if len(menuItemIDs) > 0 && !containsString(menuItemIDs, item.MenuItemID) {
				continue
			}
			freeUnits := item.Quantity / 2
			if freeUnits > 0 {
				discount = discount.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(freeUnits))))
			}
		}

	case models.RuleTypeBundle:
		// Фиксированная скидка, когда в заказе есть все позиции набора
		discount = rule.DiscountValue
		if discount.GreaterThan(base) {
			discount = base
		}

	case models.RuleTypeCustom:
		handler := ""
		if conditions.Custom != nil {
			if h, ok := conditions.Custom["handler"].(string); ok {
				handler = h
			}
		}
		fn, ok := s.customDiscounts[handler]
		if !ok {
			log.Printf("⚠️ Правило %s: обработчик %q не зарегистрирован", rule.ID, handler)
			return decimal.Zero
		}
		discount = fn(rule, order)

	default:
		return decimal.Zero
	}

	if rule.MaxDiscountAmount != nil && discount.GreaterThan(*rule.MaxDiscountAmount) {
		discount = *rule.MaxDiscountAmount
	}
	if discount.GreaterThan(base) {
		discount = base
	}
	return discount.Round(2)
}

// ResolveConflicts выбирает применяемые правила: сначала одно (или несколько
// при комбинировании) из нестекуемых по стратегии, затем стекуемые с учетом
// взаимных исключений. При цикле исключений побеждает выбранный первым.
func (s *PricingRuleService) ResolveConflicts(applicable []*RuleEvaluationResult, strategy string, subtotal decimal.Decimal, order *OrderSnapshot) []*RuleEvaluationResult {
	if strategy == "" {
		strategy = s.defaultStrategy
	}

	var stackable, nonStackable []*RuleEvaluationResult
	for _, r := range applicable {
		if r.Rule.Stackable {
			stackable = append(stackable, r)
		} else {
			nonStackable = append(nonStackable, r)
		}
	}

	var chosen []*RuleEvaluationResult

	if len(nonStackable) > 0 {
		switch strategy {
		case models.ConflictHighestDiscount:
			best := nonStackable[0]
			for _, r := range nonStackable[1:] {
				if r.DiscountAmount.GreaterThan(best.DiscountAmount) {
					best = r
				}
			}
			chosen = append(chosen, best)

		case models.ConflictFirstMatch:
			chosen = append(chosen, nonStackable[0])

		case models.ConflictPriorityBased:
			best := nonStackable[0]
			for _, r := range nonStackable[1:] {
				if r.Rule.Priority < best.Rule.Priority {
					best = r
				}
			}
			chosen = append(chosen, best)

		case models.ConflictCombineAdditive:
			// Каждая скидка считается от исходной суммы, затем суммируются
			chosen = append(chosen, nonStackable...)

		case models.ConflictCombineMultiplicative:
			// Скидки наслаиваются: каждая следующая считается от остатка
			remaining := subtotal
			for _, r := range nonStackable {
				conditions, err := r.Rule.GetConditions()
				if err != nil {
					continue
				}
				recomputed := s.computeDiscount(r.Rule, conditions, order, remaining)
				if recomputed.LessThanOrEqual(decimal.Zero) {
					continue
				}
				r.DiscountAmount = recomputed
				remaining = remaining.Sub(recomputed)
				chosen = append(chosen, r)
			}

		default:
			chosen = append(chosen, nonStackable[0])
		}

		if len(nonStackable) > 1 {
			pricingConflictsResolved.Inc()
		}
	}

	// Стекуемые правила добавляются, если нет взаимных исключений с выбранными
	for _, candidate := range stackable {
		if s.isExcluded(candidate, chosen) {
			candidate.SkipReason = "исключено ранее выбранным правилом"
			continue
		}
		chosen = append(chosen, candidate)
		pricingStackedRules.Inc()
	}

	return chosen
}

func (s *PricingRuleService) isExcluded(candidate *RuleEvaluationResult, chosen []*RuleEvaluationResult) bool {
	candidateExcluded, _ := candidate.Rule.GetExcludedRuleIDs()
	for _, c := range chosen {
		chosenExcluded, _ := c.Rule.GetExcludedRuleIDs()
		if containsString(chosenExcluded, candidate.Rule.ID) {
			return true
		}
		if containsString(candidateExcluded, c.Rule.ID) {
			return true
		}
	}
	return false
}

// EvaluateByOrderID загружает заказ из базы и прогоняет его через движок.
// Промокод приходит с запросом, а не хранится на заказе.
func (s *PricingRuleService) EvaluateByOrderID(orderID, promoCode, source string, debug bool) (*EvaluationOutcome, error) {
	var order models.Order
	if err := s.db.Preload("Items").Preload("Customer").
		First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: заказ %s", ErrNotFound, orderID)
		}
		return nil, err
	}

	customerID := ""
	if order.CustomerID != nil {
		customerID = *order.CustomerID
	}
	snapshot := &OrderSnapshot{
		OrderID:       order.ID,
		RestaurantID:  order.RestaurantID,
		CustomerID:    customerID,
		Subtotal:      order.Subtotal,
		Items:         order.Items,
		PaymentMethod: order.PaymentMethod,
		OrderType:     order.OrderType,
		Channel:       order.Channel,
		PromoCode:     promoCode,
		Customer:      order.Customer,
	}
	return s.Evaluate(snapshot, source, debug)
}

// Evaluate прогоняет заказ через движок: кандидаты, оценка, конфликты,
// применение. Повторный вызов для заказа с уже записанными применениями
// ничего не делает (уникальность rule_id+order_id).
func (s *PricingRuleService) Evaluate(order *OrderSnapshot, source string, debug bool) (*EvaluationOutcome, error) {
	started := time.Now()
	now := started.UTC()

	outcome := &EvaluationOutcome{
		OrderID:       order.OrderID,
		Subtotal:      order.Subtotal,
		TotalDiscount: decimal.Zero,
		FinalAmount:   order.Subtotal,
	}

	// Идемпотентность: применения уже записаны - не применяем повторно
	var existing int64
	if err := s.db.Model(&models.PricingRuleApplication{}).
		Where("order_id = ?", order.OrderID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		outcome.AlreadyApplied = true
		log.Printf("⚠️ Заказ %s: скидки уже применены, повторная оценка пропущена", order.OrderID)
		return outcome, nil
	}

	candidates, err := s.fetchCandidates(order.RestaurantID, now)
	if err != nil {
		return nil, err
	}

	var applicable []*RuleEvaluationResult
	for i := range candidates {
		rule := &candidates[i]
		result := s.EvaluateRule(rule, order, now)
		pricingRulesEvaluated.WithLabelValues(rule.RuleType).Inc()

		if debug {
			outcome.Trace = append(outcome.Trace, TraceEntry{
				Event:      "RULE_EVALUATED",
				RuleID:     rule.ID,
				RuleName:   rule.Name,
				Applicable: result.Applicable,
				Conditions: result.ConditionsMet,
				SkipReason: result.SkipReason,
				Discount:   result.DiscountAmount.StringFixed(2),
			})
		}

		// Персональный лимит проверяется по журналу применений клиента
		if result.Applicable && rule.MaxUsesPerCustomer > 0 {
			exhausted, usageErr := s.customerUsageExhausted(rule, order.CustomerID)
			if usageErr != nil {
				return nil, usageErr
			}
			if exhausted {
				result.Applicable = false
				if order.CustomerID == "" {
					result.SkipReason = "клиент не определен для персонального лимита"
				} else {
					result.SkipReason = "персональный лимит использований исчерпан"
				}
			}
		}

		if result.Applicable {
			applicable = append(applicable, result)
		} else {
			outcome.Skipped = append(outcome.Skipped, result)
			pricingRulesSkipped.WithLabelValues(skipReasonCategory(result.SkipReason)).Inc()
		}
	}

	chosen := s.ResolveConflicts(applicable, s.defaultStrategy, order.Subtotal, order)

	// Непрошедшие конфликтный отбор уходят в пропущенные
	chosenIDs := make(map[string]bool, len(chosen))
	for _, c := range chosen {
		chosenIDs[c.RuleID] = true
	}
	for _, r := range applicable {
		if !chosenIDs[r.RuleID] {
			if r.SkipReason == "" {
				r.SkipReason = "проиграло разрешение конфликта"
			}
			outcome.Skipped = append(outcome.Skipped, r)
			pricingRulesSkipped.WithLabelValues("conflict").Inc()
		}
	}

	// Суточные счетчики оценок пишутся по всем кандидатам независимо от
	// исхода применения, лучшим усилием
	nonStackableApplicable := 0
	for _, r := range applicable {
		if !r.Rule.Stackable {
			nonStackableApplicable++
		}
	}
	for i := range candidates {
		rule := &candidates[i]
		skipped := !chosenIDs[rule.ID]
		conflictWon := nonStackableApplicable > 1 && chosenIDs[rule.ID] && !rule.Stackable
		if err := s.bumpEvaluationMetric(rule.ID, now, skipped, conflictWon); err != nil {
			log.Printf("⚠️ Метрика оценки правила %s не записана: %v", rule.ID, err)
		}
	}

	if len(chosen) == 0 {
		pricingEvaluationSeconds.Observe(time.Since(started).Seconds())
		pricingRulesPerOrder.Observe(0)
		return outcome, nil
	}

	// Применение: строки применений, счетчики использований, суточные метрики
	err = s.db.Transaction(func(tx *gorm.DB) error {
		totalDiscount := decimal.Zero
		for _, result := range chosen {
			discount := result.DiscountAmount
			if totalDiscount.Add(discount).GreaterThan(order.Subtotal) {
				discount = order.Subtotal.Sub(totalDiscount)
			}
			if discount.LessThanOrEqual(decimal.Zero) {
				continue
			}

			conditionsMet, _ := json.Marshal(result.ConditionsMet)
			application := models.PricingRuleApplication{
				RuleID:         result.RuleID,
				OrderID:        order.OrderID,
				CustomerID:     order.CustomerID,
				DiscountAmount: discount,
				OriginalAmount: order.Subtotal,
				FinalAmount:    order.Subtotal.Sub(totalDiscount).Sub(discount),
				ConditionsMet:  string(conditionsMet),
				Source:         source,
			}
			if err := tx.Create(&application).Error; err != nil {
				if isUniqueViolation(err) {
					// Гонка повторной оценки: применение уже есть
					continue
				}
				return fmt.Errorf("ошибка записи применения правила: %w", err)
			}

			// Счетчик использований под блокировкой строки
			var rule models.PricingRule
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&rule, "id = ?", result.RuleID).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.PricingRule{}).
				Where("id = ?", result.RuleID).
				Update("current_uses", gorm.Expr("current_uses + 1")).Error; err != nil {
				return err
			}

			if err := s.bumpDailyMetric(tx, result.RuleID, now, discount); err != nil {
				return err
			}

			totalDiscount = totalDiscount.Add(discount)
			result.DiscountAmount = discount
			outcome.Applications = append(outcome.Applications, application)
			outcome.Applied = append(outcome.Applied, result)
			pricingRulesApplied.WithLabelValues(result.Rule.RuleType).Inc()
		}

		outcome.TotalDiscount = totalDiscount
		outcome.FinalAmount = order.Subtotal.Sub(totalDiscount)

		// Итоги заказа обновляются той же транзакцией
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.OrderID).
			Updates(map[string]interface{}{
				"discount_total":     totalDiscount,
				"total_amount":       outcome.FinalAmount,
				"pricing_applied_at": now,
			}).Error; err != nil {
			return fmt.Errorf("ошибка обновления итогов заказа: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	discountFloat, _ := outcome.TotalDiscount.Float64()
	pricingDiscountAmounts.Observe(discountFloat)
	pricingRulesPerOrder.Observe(float64(len(outcome.Applied)))
	pricingEvaluationSeconds.Observe(time.Since(started).Seconds())

	log.Printf("💰 Заказ %s: применено %d правил, скидка %s, итог %s",
		order.OrderID, len(outcome.Applied), outcome.TotalDiscount.StringFixed(2), outcome.FinalAmount.StringFixed(2))
	return outcome, nil
}

// customerUsageExhausted проверяет персональный лимит использований правила.
// Анонимный заказ не может подтвердить лимит и отсекается, как и в условиях
// по клиенту.
func (s *PricingRuleService) customerUsageExhausted(rule *models.PricingRule, customerID string) (bool, error) {
	if customerID == "" {
		return true, nil
	}
	var used int64
	if err := s.db.Model(&models.PricingRuleApplication{}).
		Where("rule_id = ? AND customer_id = ?", rule.ID, customerID).
		Count(&used).Error; err != nil {
		return false, fmt.Errorf("ошибка подсчета применений клиента: %w", err)
	}
	return used >= int64(rule.MaxUsesPerCustomer), nil
}

func skipReasonCategory(reason string) string {
	switch {
	case reason == "":
		return "other"
	case len(reason) >= 16 && reason[:16] == "Evaluation error":
		return "evaluation_error"
	case reason == "промокод не предъявлен":
		return "promo_code"
	case reason == "сумма заказа ниже min_order_amount":
		return "min_order_amount"
	case reason == "персональный лимит использований исчерпан",
		reason == "клиент не определен для персонального лимита":
		return "usage_cap"
	default:
		return "conditions"
	}
}

// bumpEvaluationMetric обновляет счетчики оценок суточной строки метрик:
// сколько раз правило оценено, пропущено и победило в конфликте
func (s *PricingRuleService) bumpEvaluationMetric(ruleID string, now time.Time, skipped, conflictWon bool) error {
	date := now.Truncate(24 * time.Hour)
	metric := models.PricingRuleMetric{
		RuleID:         ruleID,
		Date:           date,
		TimesEvaluated: 1,
	}
	assignments := map[string]interface{}{
		"times_evaluated": gorm.Expr("pricing_rule_metrics.times_evaluated + 1"),
	}
	if skipped {
		metric.TimesSkipped = 1
		assignments["times_skipped"] = gorm.Expr("pricing_rule_metrics.times_skipped + 1")
	}
	if conflictWon {
		metric.ConflictsResolved = 1
		assignments["conflicts_resolved"] = gorm.Expr("pricing_rule_metrics.conflicts_resolved + 1")
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&metric).Error
}

// bumpDailyMetric обновляет суточную строку метрик правила (уникальность rule_id+date)
func (s *PricingRuleService) bumpDailyMetric(tx *gorm.DB, ruleID string, now time.Time, discount decimal.Decimal) error {
	date := now.Truncate(24 * time.Hour)
	metric := models.PricingRuleMetric{
		RuleID:        ruleID,
		Date:          date,
		TimesApplied:  1,
		TotalDiscount: discount,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"times_applied":  gorm.Expr("pricing_rule_metrics.times_applied + 1"),
			"total_discount": gorm.Expr("pricing_rule_metrics.total_discount + ?", discount),
		}),
	}).Create(&metric).Error
}

// CreateRule создает правило с валидацией условий и записью аудита
func (s *PricingRuleService) CreateRule(rule *models.PricingRule, actorID string) error {
	conditions, err := rule.GetConditions()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConditions, err)
	}
	if err := ValidateConditions(conditions, rule.RuleType); err != nil {
		return err
	}
	if rule.Priority < 1 || rule.Priority > 5 {
		return fmt.Errorf("%w: приоритет %d вне диапазона 1-5", ErrInvalidConditions, rule.Priority)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		rule.CreatedBy = actorID
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		return writeAudit(tx, "pricing_rule", rule.ID, "create", "", rule.Name, actorID)
	})
}

// UpdateRule изменяет правило с валидацией и аудитом
func (s *PricingRuleService) UpdateRule(ruleID string, updates *models.PricingRule, actorID string) (*models.PricingRule, error) {
	var rule models.PricingRule
	if err := s.db.First(&rule, "id = ?", ruleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: правило %s", ErrNotFound, ruleID)
		}
		return nil, err
	}

	if updates.Conditions != "" {
		conditions, err := updates.GetConditions()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConditions, err)
		}
		if err := ValidateConditions(conditions, rule.RuleType); err != nil {
			return nil, err
		}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&rule).Updates(updates).Error; err != nil {
			return err
		}
		return writeAudit(tx, "pricing_rule", rule.ID, "update", "", rule.Name, actorID)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteRule мягко удаляет правило с аудитом
func (s *PricingRuleService) DeleteRule(ruleID, actorID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.PricingRule{}, "id = ?", ruleID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: правило %s", ErrNotFound, ruleID)
		}
		return writeAudit(tx, "pricing_rule", ruleID, "delete", "", "", actorID)
	})
}

// GetRule возвращает правило по id
func (s *PricingRuleService) GetRule(ruleID string) (*models.PricingRule, error) {
	var rule models.PricingRule
	if err := s.db.First(&rule, "id = ?", ruleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: правило %s", ErrNotFound, ruleID)
		}
		return nil, err
	}
	return &rule, nil
}

// ListRules возвращает правила ресторана
func (s *PricingRuleService) ListRules(restaurantID string) ([]models.PricingRule, error) {
	var rules []models.PricingRule
	if err := s.db.Where("restaurant_id = ?", restaurantID).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// ExpireRules переводит просроченные активные правила в EXPIRED
// и обновляет gauge активных правил. Вызывается часовым воркером.
func (s *PricingRuleService) ExpireRules() error {
	now := time.Now().UTC()
	result := s.db.Model(&models.PricingRule{}).
		Where("status = ? AND valid_until IS NOT NULL AND valid_until < ?", models.RuleStatusActive, now).
		Update("status", models.RuleStatusExpired)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("⏰ Просрочено правил: %d", result.RowsAffected)
	}

	// Gauge активных правил по ресторанам и типам
	type activeCount struct {
		RestaurantID string
		RuleType     string
		Count        int64
	}
	var counts []activeCount
	if err := s.db.Model(&models.PricingRule{}).
		Select("restaurant_id, rule_type, count(*) as count").
		Where("status = ?", models.RuleStatusActive).
		Group("restaurant_id, rule_type").
		Scan(&counts).Error; err != nil {
		return err
	}
	pricingActiveRules.Reset()
	for _, c := range counts {
		pricingActiveRules.WithLabelValues(c.RestaurantID, c.RuleType).Set(float64(c.Count))
	}
	return nil
}

// PurgeOldMetrics удаляет суточные метрики старше 90 дней. Вызывается раз в сутки.
func (s *PricingRuleService) PurgeOldMetrics() error {
	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	result := s.db.Where("date < ?", cutoff).Delete(&models.PricingRuleMetric{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("🧹 Удалено старых метрик правил: %d", result.RowsAffected)
	}
	return nil
}

// writeAudit записывает строку аудита внутри транзакции
func writeAudit(tx *gorm.DB, entityKind, entityID, action, oldValue, newValue, actorID string) error {
	return tx.Create(&models.AuditLog{
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     action,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    actorID,
	}).Error
}
