package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Типы корректировок остатков
const (
	AdjustmentKindConsumption = "CONSUMPTION" // Списание под заказ
	AdjustmentKindReturn      = "RETURN"      // Возврат при отмене заказа
	AdjustmentKindManual      = "MANUAL"      // Ручная корректировка (инвентаризация, порча)
)

// Типы ссылок корректировки на источник
const (
	AdjustmentRefOrder         = "order"
	AdjustmentRefOrderReversal = "order_reversal"
	AdjustmentRefManual        = "manual"
)

// InventoryItem представляет позицию склада (сырье, ингредиент)
type InventoryItem struct {
	ID                int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Name              string         `json:"name" gorm:"type:varchar(255);not null"`
	Quantity          float64        `json:"quantity" gorm:"type:decimal(12,3);not null;default:0"`
	Unit              string         `json:"unit" gorm:"type:varchar(20);not null;default:'g'"` // g, kg, pcs, l, ml
	LowStockThreshold float64        `json:"low_stock_threshold" gorm:"type:decimal(12,3);default:0"` // 0 = не отслеживается
	IsActive          bool           `json:"is_active" gorm:"default:true;index"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt         gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName указывает имя таблицы
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// IsLowStock проверяет, упал ли остаток ниже порога
func (i *InventoryItem) IsLowStock() bool {
	return i.LowStockThreshold > 0 && i.Quantity < i.LowStockThreshold
}

// InventoryAdjustment представляет движение остатка (списание, возврат, ручная корректировка).
// Каждая строка хранит остаток до и после, чтобы журнал читался без пересчета.
type InventoryAdjustment struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey"`
	InventoryID    int64     `json:"inventory_id" gorm:"not null;index"`
	Item           *InventoryItem `gorm:"foreignKey:InventoryID" json:"item,omitempty"`
	Kind           string    `json:"kind" gorm:"type:varchar(20);not null;index"` // CONSUMPTION, RETURN, MANUAL
	QuantityBefore float64   `json:"quantity_before" gorm:"type:decimal(12,3);not null"`
	QuantityChange float64   `json:"quantity_change" gorm:"type:decimal(12,3);not null"` // Отрицательное = расход
	QuantityAfter  float64   `json:"quantity_after" gorm:"type:decimal(12,3);not null"`
	ReferenceKind  string    `json:"reference_kind" gorm:"type:varchar(30);not null;index"` // order, order_reversal, manual
	ReferenceID    string    `json:"reference_id" gorm:"type:varchar(64);not null;index"`
	ActorID        string    `json:"actor_id" gorm:"type:varchar(64)"` // Пользователь или system
	Reason         string    `json:"reason" gorm:"type:text"`
	Metadata       string    `json:"metadata" gorm:"type:jsonb;default:'{}'"` // synced_to_external и прочие флаги
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName указывает имя таблицы
func (InventoryAdjustment) TableName() string {
	return "inventory_adjustments"
}

// BeforeCreate генерирует UUID
func (a *InventoryAdjustment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	return nil
}

// GetMetadata разбирает JSONB метаданные корректировки
func (a *InventoryAdjustment) GetMetadata() (map[string]interface{}, error) {
	meta := map[string]interface{}{}
	if a.Metadata == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(a.Metadata), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// SetMetadata сериализует метаданные в JSONB строку
func (a *InventoryAdjustment) SetMetadata(meta map[string]interface{}) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	a.Metadata = string(data)
	return nil
}

// IsSyncedToExternal проверяет флаг выгрузки во внешнюю учетную систему
func (a *InventoryAdjustment) IsSyncedToExternal() bool {
	meta, err := a.GetMetadata()
	if err != nil {
		return false
	}
	synced, ok := meta["synced_to_external"].(bool)
	return ok && synced
}

// MenuItemInventory представляет плоскую привязку позиции меню к складу.
// Исторический путь списания без рецептов, включается флагом конфигурации.
type MenuItemInventory struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	MenuItemID  string    `json:"menu_item_id" gorm:"type:uuid;not null;uniqueIndex:idx_menu_item_inventory;index"`
	InventoryID int64     `json:"inventory_id" gorm:"not null;uniqueIndex:idx_menu_item_inventory;index"`
	Item        *InventoryItem `gorm:"foreignKey:InventoryID" json:"item,omitempty"`
	Quantity    float64   `json:"quantity" gorm:"type:decimal(12,3);not null"` // Расход на одну позицию
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (MenuItemInventory) TableName() string {
	return "menu_item_inventory"
}

// BeforeCreate генерирует UUID
func (m *MenuItemInventory) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
