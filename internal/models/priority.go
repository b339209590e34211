package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Типы факторов приоритета
const (
	ScoreTypeWaitTime        = "wait_time"
	ScoreTypeOrderValue      = "order_value"
	ScoreTypeVIP             = "vip"
	ScoreTypeDeliveryTime    = "delivery_time"
	ScoreTypePrepComplexity  = "prep_complexity"
	ScoreTypeCustomerLoyalty = "customer_loyalty"
	ScoreTypePeakHours       = "peak_hours"
	ScoreTypeGroupSize       = "group_size"
	ScoreTypeSpecialNeeds    = "special_needs"
	ScoreTypeCustom          = "custom"
)

// Формы кривой подсчета
const (
	ScoreCurveLinear      = "linear"
	ScoreCurveExponential = "exponential"
	ScoreCurveLogarithmic = "logarithmic"
	ScoreCurveStep        = "step"
	ScoreCurveCustom      = "custom"
)

// Методы агрегации компонентов профиля
const (
	AggregationWeightedSum = "weighted_sum"
	AggregationMax         = "max"
	AggregationMin         = "min"
	AggregationAverage     = "average"
	AggregationMultiply    = "multiply"
)

// ScoreConfig описывает декларативную кривую подсчета фактора.
// Steps используется только для type=step: пары [порог, балл],
// берется первая пара, чей порог >= значения.
type ScoreConfig struct {
	Type         string       `json:"type"`
	BaseScore    float64      `json:"base_score,omitempty"`
	Multiplier   float64      `json:"multiplier,omitempty"`
	Exponent     float64      `json:"exponent,omitempty"`
	Steps        [][2]float64 `json:"steps,omitempty"`
	DefaultScore float64      `json:"default_score,omitempty"`
}

// PriorityRule представляет именованный фактор подсчета приоритета
type PriorityRule struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey"`
	RestaurantID  string         `json:"restaurant_id" gorm:"type:varchar(64);not null;index"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null"`
	ScoreType     string         `json:"score_type" gorm:"type:varchar(30);not null"`
	ScoreConfig   string         `json:"score_config" gorm:"type:jsonb;not null;default:'{}'"`
	Parameters    string         `json:"parameters" gorm:"type:jsonb;default:'{}'"` // Доп. параметры: peak_hours, keywords, base_value
	DefaultWeight float64        `json:"default_weight" gorm:"type:decimal(10,4);default:1"`
	MinScore      float64        `json:"min_score" gorm:"type:decimal(10,2);default:0"`
	MaxScore      float64        `json:"max_score" gorm:"type:decimal(10,2);default:100"`
	IsActive      bool           `json:"is_active" gorm:"default:true;index"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName указывает имя таблицы
func (PriorityRule) TableName() string {
	return "priority_rules"
}

// BeforeCreate генерирует UUID
func (r *PriorityRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ScoreConfig == "" {
		r.ScoreConfig = "{}"
	}
	if r.Parameters == "" {
		r.Parameters = "{}"
	}
	return nil
}

// GetScoreConfig разбирает JSONB конфигурацию кривой
func (r *PriorityRule) GetScoreConfig() (*ScoreConfig, error) {
	config := &ScoreConfig{}
	if r.ScoreConfig == "" || r.ScoreConfig == "{}" {
		config.Type = ScoreCurveLinear
		return config, nil
	}
	if err := json.Unmarshal([]byte(r.ScoreConfig), config); err != nil {
		return nil, err
	}
	if config.Type == "" {
		config.Type = ScoreCurveLinear
	}
	return config, nil
}

// SetScoreConfig сериализует конфигурацию кривой в JSONB строку
func (r *PriorityRule) SetScoreConfig(config *ScoreConfig) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	r.ScoreConfig = string(data)
	return nil
}

// GetParameters разбирает JSONB параметры правила
func (r *PriorityRule) GetParameters() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if r.Parameters == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(r.Parameters), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// PriorityProfile представляет набор правил с весами и методом агрегации
type PriorityProfile struct {
	ID                       string         `json:"id" gorm:"type:uuid;primaryKey"`
	RestaurantID             string         `json:"restaurant_id" gorm:"type:varchar(64);not null;index"`
	Name                     string         `json:"name" gorm:"type:varchar(255);not null"`
	AggregationMethod        string         `json:"aggregation_method" gorm:"type:varchar(20);not null;default:'weighted_sum'"`
	TotalWeightNormalization bool           `json:"total_weight_normalization" gorm:"default:false"`
	MinTotalScore            float64        `json:"min_total_score" gorm:"type:decimal(10,2);default:0"`
	MaxTotalScore            float64        `json:"max_total_score" gorm:"type:decimal(10,2);default:100"`
	IsActive                 bool           `json:"is_active" gorm:"default:true;index"`
	CreatedAt                time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt                time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt                gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// Relations
	Rules []PriorityProfileRule `json:"rules" gorm:"foreignKey:ProfileID"`
}

// TableName указывает имя таблицы
func (PriorityProfile) TableName() string {
	return "priority_profiles"
}

// BeforeCreate генерирует UUID
func (p *PriorityProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// PriorityProfileRule представляет привязку правила к профилю с весом и порогами
type PriorityProfileRule struct {
	ID             string        `json:"id" gorm:"type:uuid;primaryKey"`
	ProfileID      string        `json:"profile_id" gorm:"type:uuid;not null;uniqueIndex:idx_profile_rule;index"`
	RuleID         string        `json:"rule_id" gorm:"type:uuid;not null;uniqueIndex:idx_profile_rule;index"`
	Rule           *PriorityRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
	Weight         float64       `json:"weight" gorm:"type:decimal(10,4);default:1"`
	WeightOverride *float64      `json:"weight_override,omitempty" gorm:"type:decimal(10,4)"`
	MinThreshold   *float64      `json:"min_threshold,omitempty" gorm:"type:decimal(10,2)"`
	MaxThreshold   *float64      `json:"max_threshold,omitempty" gorm:"type:decimal(10,2)"`
	FallbackScore  float64       `json:"fallback_score" gorm:"type:decimal(10,2);default:0"`
	IsRequired     bool          `json:"is_required" gorm:"default:false"` // Ошибка обязательного правила валит весь расчет
	CreatedAt      time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (PriorityProfileRule) TableName() string {
	return "priority_profile_rules"
}

// BeforeCreate генерирует UUID
func (pr *PriorityProfileRule) BeforeCreate(tx *gorm.DB) error {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	return nil
}

// EffectiveWeight возвращает вес с учетом переопределения на привязке
func (pr *PriorityProfileRule) EffectiveWeight() float64 {
	if pr.WeightOverride != nil {
		return *pr.WeightOverride
	}
	if pr.Weight != 0 {
		return pr.Weight
	}
	if pr.Rule != nil {
		return pr.Rule.DefaultWeight
	}
	return 1
}

// QueuePriorityConfig привязывает профиль к очереди и задает политику бустов и ребаланса
type QueuePriorityConfig struct {
	ID                       string           `json:"id" gorm:"type:uuid;primaryKey"`
	QueueID                  string           `json:"queue_id" gorm:"type:uuid;not null;uniqueIndex"`
	ProfileID                string           `json:"profile_id" gorm:"type:uuid;not null;index"`
	Profile                  *PriorityProfile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	BoostVIP                 float64          `json:"boost_vip" gorm:"type:decimal(10,2);default:0"`
	BoostDelayed             float64          `json:"boost_delayed" gorm:"type:decimal(10,2);default:0"`
	BoostLargeParty          float64          `json:"boost_large_party" gorm:"type:decimal(10,2);default:0"`
	PeakMultiplier           float64          `json:"peak_multiplier" gorm:"type:decimal(10,4);default:1"`
	PeakHours                string           `json:"peak_hours" gorm:"type:jsonb;default:'[]'"` // Часы пиковой нагрузки [11,12,18,19]
	RebalanceEnabled         bool             `json:"rebalance_enabled" gorm:"default:true"`
	RebalanceIntervalMinutes int              `json:"rebalance_interval_minutes" gorm:"default:5"`
	RebalanceThreshold       float64          `json:"rebalance_threshold" gorm:"type:decimal(10,4);default:0.7"` // Минимальный индекс справедливости
	MaxPositionChange        int              `json:"max_position_change" gorm:"default:3"`
	IsActive                 bool             `json:"is_active" gorm:"default:true"`
	CreatedAt                time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt                time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (QueuePriorityConfig) TableName() string {
	return "queue_priority_configs"
}

// BeforeCreate генерирует UUID
func (c *QueuePriorityConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.PeakHours == "" {
		c.PeakHours = "[]"
	}
	return nil
}

// GetPeakHours разбирает список пиковых часов
func (c *QueuePriorityConfig) GetPeakHours() ([]int, error) {
	if c.PeakHours == "" || c.PeakHours == "[]" {
		return []int{}, nil
	}
	var hours []int
	if err := json.Unmarshal([]byte(c.PeakHours), &hours); err != nil {
		return nil, err
	}
	return hours, nil
}

// OrderPriorityScore представляет кэшированный результат подсчета приоритета элемента
type OrderPriorityScore struct {
	ID             string     `json:"id" gorm:"type:uuid;primaryKey"`
	QueueItemID    string     `json:"queue_item_id" gorm:"type:uuid;not null;uniqueIndex"`
	OrderID        string     `json:"order_id" gorm:"type:uuid;not null;index"`
	QueueID        string     `json:"queue_id" gorm:"type:uuid;not null;index"`
	TotalScore     float64    `json:"total_score" gorm:"type:decimal(10,2);not null"`
	BaseScore      float64    `json:"base_score" gorm:"type:decimal(10,2);not null"`
	BoostScore     float64    `json:"boost_score" gorm:"type:decimal(10,2);default:0"`
	Components     string     `json:"components" gorm:"type:jsonb;default:'{}'"` // Разбивка по правилам
	Tier           string     `json:"tier" gorm:"type:varchar(10);default:'low'"` // high, medium, low
	IsBoosted      bool       `json:"is_boosted" gorm:"default:false;index"`
	BoostReason    string     `json:"boost_reason" gorm:"type:text"`
	BoostExpiresAt *time.Time `json:"boost_expires_at,omitempty" gorm:"index"`
	CalculatedAt   time.Time  `json:"calculated_at" gorm:"not null;index"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (OrderPriorityScore) TableName() string {
	return "order_priority_scores"
}

// BeforeCreate генерирует UUID
func (s *OrderPriorityScore) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Components == "" {
		s.Components = "{}"
	}
	return nil
}

// GetComponents разбирает разбивку балла по правилам
func (s *OrderPriorityScore) GetComponents() (map[string]float64, error) {
	components := map[string]float64{}
	if s.Components == "" {
		return components, nil
	}
	if err := json.Unmarshal([]byte(s.Components), &components); err != nil {
		return nil, err
	}
	return components, nil
}

// SetComponents сериализует разбивку балла в JSONB строку
func (s *OrderPriorityScore) SetComponents(components map[string]float64) error {
	data, err := json.Marshal(components)
	if err != nil {
		return err
	}
	s.Components = string(data)
	return nil
}

// PriorityAdjustmentLog представляет журнал ручных вмешательств в приоритеты
type PriorityAdjustmentLog struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	QueueItemID string    `json:"queue_item_id" gorm:"type:uuid;not null;index"`
	QueueID     string    `json:"queue_id" gorm:"type:uuid;not null;index"`
	Action      string    `json:"action" gorm:"type:varchar(30);not null"` // expedite, move, transfer, boost, rebalance
	OldValue    float64   `json:"old_value" gorm:"type:decimal(10,2)"`
	NewValue    float64   `json:"new_value" gorm:"type:decimal(10,2)"`
	Reason      string    `json:"reason" gorm:"type:text"`
	ActorID     string    `json:"actor_id" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName указывает имя таблицы
func (PriorityAdjustmentLog) TableName() string {
	return "priority_adjustment_logs"
}

// BeforeCreate генерирует UUID
func (l *PriorityAdjustmentLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
