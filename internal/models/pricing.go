package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Типы ценовых правил
const (
	RuleTypePercentage = "PERCENTAGE"
	RuleTypeFixed      = "FIXED"
	RuleTypeBundle     = "BUNDLE"
	RuleTypeBOGO       = "BOGO"
	RuleTypeHappyHour  = "HAPPY_HOUR"
	RuleTypeQuantity   = "QUANTITY"
	RuleTypeCategory   = "CATEGORY"
	RuleTypeTimeBased  = "TIME_BASED"
	RuleTypeCustom     = "CUSTOM"
)

// Статусы ценовых правил
const (
	RuleStatusActive    = "ACTIVE"
	RuleStatusInactive  = "INACTIVE"
	RuleStatusScheduled = "SCHEDULED"
	RuleStatusExpired   = "EXPIRED"
	RuleStatusTesting   = "TESTING"
)

// Стратегии разрешения конфликтов нестекуемых правил
const (
	ConflictHighestDiscount       = "HIGHEST_DISCOUNT"
	ConflictFirstMatch            = "FIRST_MATCH"
	ConflictPriorityBased         = "PRIORITY_BASED"
	ConflictCombineAdditive       = "COMBINE_ADDITIVE"
	ConflictCombineMultiplicative = "COMBINE_MULTIPLICATIVE"
)

// Источники применения правила
const (
	ApplicationSourceSystem = "system"
	ApplicationSourceManual = "manual"
	ApplicationSourceAPI    = "api"
)

// TimeConditions описывает временную секцию условий правила.
// StartTime > EndTime означает окно через полночь (22:00-02:00).
type TimeConditions struct {
	DaysOfWeek []int       `json:"days_of_week,omitempty"` // 0-6, 0 = понедельник
	StartTime  string      `json:"start_time,omitempty"`   // HH:MM
	EndTime    string      `json:"end_time,omitempty"`     // HH:MM
	DateRanges []DateRange `json:"date_ranges,omitempty"`
	Timezone   string      `json:"timezone,omitempty"`
}

// DateRange представляет календарный интервал действия
type DateRange struct {
	From string `json:"from"` // YYYY-MM-DD
	To   string `json:"to"`   // YYYY-MM-DD
}

// ItemConditions описывает секцию условий по составу заказа
type ItemConditions struct {
	MenuItemIDs    []string `json:"menu_item_ids,omitempty"`
	CategoryIDs    []string `json:"category_ids,omitempty"`
	ExcludeItemIDs []string `json:"exclude_item_ids,omitempty"`
	MinQuantity    int      `json:"min_quantity,omitempty"`
	MaxQuantity    int      `json:"max_quantity,omitempty"`
}

// CustomerConditions описывает секцию условий по клиенту.
// NewCustomer=true несовместимо с MinOrders > 0.
type CustomerConditions struct {
	LoyaltyTiers  []string `json:"loyalty_tiers,omitempty"`
	MinOrders     int      `json:"min_orders,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	NewCustomer   bool     `json:"new_customer,omitempty"`
	BirthdayMonth bool     `json:"birthday_month,omitempty"`
}

// OrderConditions описывает секцию условий по параметрам заказа
type OrderConditions struct {
	MinItems       int      `json:"min_items,omitempty"`
	MaxItems       int      `json:"max_items,omitempty"`
	PaymentMethods []string `json:"payment_methods,omitempty"`
	OrderTypes     []string `json:"order_types,omitempty"`
	Channels       []string `json:"channels,omitempty"`
	MinSubtotal    float64  `json:"min_subtotal,omitempty"`
	MaxSubtotal    float64  `json:"max_subtotal,omitempty"`
}

// RuleConditions представляет полный документ условий ценового правила
type RuleConditions struct {
	Time     *TimeConditions        `json:"time,omitempty"`
	Items    *ItemConditions        `json:"items,omitempty"`
	Customer *CustomerConditions    `json:"customer,omitempty"`
	Order    *OrderConditions       `json:"order,omitempty"`
	Custom   map[string]interface{} `json:"custom,omitempty"`
}

// PricingRule представляет ценовое правило (скидка, акция, промокод)
type PricingRule struct {
	ID                 string          `json:"id" gorm:"type:uuid;primaryKey"`
	RestaurantID       string          `json:"restaurant_id" gorm:"type:varchar(64);not null;index"`
	Name               string          `json:"name" gorm:"type:varchar(255);not null"`
	Description        string          `json:"description" gorm:"type:text"`
	RuleType           string          `json:"rule_type" gorm:"type:varchar(30);not null;index"`
	Status             string          `json:"status" gorm:"type:varchar(20);not null;default:'INACTIVE';index"`
	Priority           int             `json:"priority" gorm:"not null;default:3"` // 1-5, 1 = наивысший
	DiscountValue      decimal.Decimal `json:"discount_value" gorm:"type:decimal(10,2);not null"`
	MaxDiscountAmount  *decimal.Decimal `json:"max_discount_amount,omitempty" gorm:"type:decimal(10,2)"`
	MinOrderAmount     decimal.Decimal `json:"min_order_amount" gorm:"type:decimal(10,2);default:0"`
	Conditions         string          `json:"conditions" gorm:"type:jsonb;default:'{}'"`
	ValidFrom          time.Time       `json:"valid_from" gorm:"not null;index"`
	ValidUntil         *time.Time      `json:"valid_until,omitempty" gorm:"index"` // NULL = бессрочно
	MaxUses            int             `json:"max_uses" gorm:"default:0"` // 0 = без лимита
	MaxUsesPerCustomer int             `json:"max_uses_per_customer" gorm:"default:0"`
	CurrentUses        int             `json:"current_uses" gorm:"default:0"`
	Stackable          bool            `json:"stackable" gorm:"default:false"`
	ExcludedRuleIDs    string          `json:"excluded_rule_ids" gorm:"type:jsonb;default:'[]'"`
	ConflictResolution string          `json:"conflict_resolution" gorm:"type:varchar(30);default:'HIGHEST_DISCOUNT'"`
	PromoCode          string          `json:"promo_code" gorm:"type:varchar(64);index"`
	CreatedBy          string          `json:"created_by" gorm:"type:varchar(64)"`
	CreatedAt          time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt          gorm.DeletedAt  `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName указывает имя таблицы
func (PricingRule) TableName() string {
	return "pricing_rules"
}

// BeforeCreate генерирует UUID
func (r *PricingRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Conditions == "" {
		r.Conditions = "{}"
	}
	if r.ExcludedRuleIDs == "" {
		r.ExcludedRuleIDs = "[]"
	}
	return nil
}

// GetConditions разбирает JSONB документ условий
func (r *PricingRule) GetConditions() (*RuleConditions, error) {
	conditions := &RuleConditions{}
	if r.Conditions == "" || r.Conditions == "{}" {
		return conditions, nil
	}
	if err := json.Unmarshal([]byte(r.Conditions), conditions); err != nil {
		return nil, err
	}
	return conditions, nil
}

// SetConditions сериализует документ условий в JSONB строку
func (r *PricingRule) SetConditions(conditions *RuleConditions) error {
	data, err := json.Marshal(conditions)
	if err != nil {
		return err
	}
	r.Conditions = string(data)
	return nil
}

// GetExcludedRuleIDs возвращает список исключаемых правил
func (r *PricingRule) GetExcludedRuleIDs() ([]string, error) {
	if r.ExcludedRuleIDs == "" || r.ExcludedRuleIDs == "[]" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.ExcludedRuleIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetExcludedRuleIDs сериализует список исключаемых правил
func (r *PricingRule) SetExcludedRuleIDs(ids []string) error {
	if len(ids) == 0 {
		r.ExcludedRuleIDs = "[]"
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	r.ExcludedRuleIDs = string(data)
	return nil
}

// IsEffective проверяет, действует ли правило в данный момент:
// статус ACTIVE, окно действия открыто, лимит использований не исчерпан
func (r *PricingRule) IsEffective(now time.Time) bool {
	if r.Status != RuleStatusActive {
		return false
	}
	if now.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !now.Before(*r.ValidUntil) {
		return false
	}
	if r.MaxUses > 0 && r.CurrentUses >= r.MaxUses {
		return false
	}
	return true
}

// PricingRuleApplication представляет факт применения правила к заказу.
// Уникальность (rule_id, order_id) защищает от повторного применения.
type PricingRuleApplication struct {
	ID             string          `json:"id" gorm:"type:uuid;primaryKey"`
	RuleID         string          `json:"rule_id" gorm:"type:uuid;not null;uniqueIndex:idx_rule_application;index"`
	Rule           *PricingRule    `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
	OrderID        string          `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_rule_application;index"`
	CustomerID     string          `json:"customer_id" gorm:"type:varchar(64);index"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:decimal(10,2);not null"`
	OriginalAmount decimal.Decimal `json:"original_amount" gorm:"type:decimal(10,2);not null"`
	FinalAmount    decimal.Decimal `json:"final_amount" gorm:"type:decimal(10,2);not null"`
	ConditionsMet  string          `json:"conditions_met" gorm:"type:jsonb;default:'{}'"` // Какие секции условий сработали
	Source         string          `json:"source" gorm:"type:varchar(20);not null;default:'system'"` // system, manual, api
	AppliedAt      time.Time       `json:"applied_at" gorm:"autoCreateTime;index"`
}

// TableName указывает имя таблицы
func (PricingRuleApplication) TableName() string {
	return "pricing_rule_applications"
}

// BeforeCreate генерирует UUID
func (a *PricingRuleApplication) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ConditionsMet == "" {
		a.ConditionsMet = "{}"
	}
	return nil
}

// PricingRuleMetric представляет суточную статистику по правилу
type PricingRuleMetric struct {
	ID                string          `json:"id" gorm:"type:uuid;primaryKey"`
	RuleID            string          `json:"rule_id" gorm:"type:uuid;not null;uniqueIndex:idx_rule_metric_date;index"`
	Date              time.Time       `json:"date" gorm:"type:date;not null;uniqueIndex:idx_rule_metric_date;index"`
	TimesEvaluated    int             `json:"times_evaluated" gorm:"default:0"`
	TimesApplied      int             `json:"times_applied" gorm:"default:0"`
	TimesSkipped      int             `json:"times_skipped" gorm:"default:0"`
	ConflictsResolved int             `json:"conflicts_resolved" gorm:"default:0"`
	TotalDiscount     decimal.Decimal `json:"total_discount" gorm:"type:decimal(12,2);default:0"`
	CreatedAt         time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (PricingRuleMetric) TableName() string {
	return "pricing_rule_metrics"
}

// BeforeCreate генерирует UUID
func (m *PricingRuleMetric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
