package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Статусы заказов
const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusReady      = "READY"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
)

// orderTransitions задает допустимые переходы статусов заказа.
// COMPLETED и CANCELLED терминальны.
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress: {OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusReady:      {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
}

// CanTransitionOrder проверяет допустимость перехода статуса заказа
func CanTransitionOrder(from, to string) bool {
	allowed, ok := orderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalOrderStatus проверяет, является ли статус заказа терминальным
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}

// Order представляет заказ клиента
type Order struct {
	ID                  string          `json:"id" gorm:"type:uuid;primaryKey"`
	RestaurantID        string          `json:"restaurant_id" gorm:"type:varchar(64);not null;index"`
	CustomerID          *string         `json:"customer_id,omitempty" gorm:"type:uuid;index"`
	Customer            *Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Status              string          `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index"`
	OrderType           string          `json:"order_type" gorm:"type:varchar(20);default:'dine_in'"` // dine_in, takeaway, delivery
	Channel             string          `json:"channel" gorm:"type:varchar(20);default:'pos'"` // pos, web, app, aggregator
	PaymentMethod       string          `json:"payment_method" gorm:"type:varchar(20)"`
	Subtotal            decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null;default:0"`
	DiscountTotal       decimal.Decimal `json:"discount_total" gorm:"type:decimal(10,2);not null;default:0"`
	TotalAmount         decimal.Decimal `json:"total_amount" gorm:"type:decimal(10,2);not null;default:0"`
	PartySize           int             `json:"party_size" gorm:"default:1"`
	SpecialInstructions string          `json:"special_instructions" gorm:"type:text"`
	PromisedAt          *time.Time      `json:"promised_at,omitempty"` // Обещанное время выдачи/доставки
	PricingAppliedAt    *time.Time      `json:"pricing_applied_at,omitempty"` // Когда отработал движок скидок
	DeductedAt          *time.Time      `json:"deducted_at,omitempty"`        // Когда списаны остатки
	CreatedAt           time.Time       `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt           time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt           gorm.DeletedAt  `json:"deleted_at,omitempty" gorm:"index"`

	// Relations
	Items []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
}

// TableName указывает имя таблицы
func (Order) TableName() string {
	return "orders"
}

// BeforeCreate генерирует UUID
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// OrderItem представляет позицию заказа
type OrderItem struct {
	ID              string          `json:"id" gorm:"type:uuid;primaryKey"`
	OrderID         string          `json:"order_id" gorm:"type:uuid;not null;index"`
	MenuItemID      string          `json:"menu_item_id" gorm:"type:uuid;not null;index"`
	CategoryID      string          `json:"category_id" gorm:"type:uuid;index"`
	Name            string          `json:"name" gorm:"type:varchar(255);not null"`
	Quantity        int             `json:"quantity" gorm:"not null;default:1"`
	UnitPrice       decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	ComplexityScore float64         `json:"complexity_score" gorm:"type:decimal(10,2);default:1"` // Сложность приготовления
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (OrderItem) TableName() string {
	return "order_items"
}

// BeforeCreate генерирует UUID
func (oi *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if oi.ID == "" {
		oi.ID = uuid.New().String()
	}
	return nil
}

// LineTotal возвращает стоимость позиции
func (oi *OrderItem) LineTotal() decimal.Decimal {
	return oi.UnitPrice.Mul(decimal.NewFromInt(int64(oi.Quantity)))
}

// Customer представляет клиента ресторана
type Customer struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey"`
	RestaurantID  string         `json:"restaurant_id" gorm:"type:varchar(64);not null;index"`
	Name          string         `json:"name" gorm:"type:varchar(255)"`
	Phone         string         `json:"phone" gorm:"type:varchar(32);index"`
	IsVIP         bool           `json:"is_vip" gorm:"default:false"`
	LoyaltyTier   string         `json:"loyalty_tier" gorm:"type:varchar(20);default:'basic'"` // basic, silver, gold, platinum
	LoyaltyPoints int            `json:"loyalty_points" gorm:"default:0"`
	TotalOrders   int            `json:"total_orders" gorm:"default:0"`
	Tags          string         `json:"tags" gorm:"type:jsonb;default:'[]'"`
	BirthMonth    int            `json:"birth_month" gorm:"default:0"` // 1-12, 0 = неизвестен
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName указывает имя таблицы
func (Customer) TableName() string {
	return "customers"
}

// BeforeCreate генерирует UUID
func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Tags == "" {
		c.Tags = "[]"
	}
	return nil
}

// AuditLog представляет запись аудита действий над заказами и правилами
type AuditLog struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	EntityKind string    `json:"entity_kind" gorm:"type:varchar(30);not null;index"` // order, pricing_rule, queue_item
	EntityID   string    `json:"entity_id" gorm:"type:varchar(64);not null;index"`
	Action     string    `json:"action" gorm:"type:varchar(50);not null"`
	OldValue   string    `json:"old_value" gorm:"type:text"`
	NewValue   string    `json:"new_value" gorm:"type:text"`
	Details    string    `json:"details" gorm:"type:jsonb;default:'{}'"`
	ActorID    string    `json:"actor_id" gorm:"type:varchar(64);index"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName указывает имя таблицы
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate генерирует UUID
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Details == "" {
		a.Details = "{}"
	}
	return nil
}
