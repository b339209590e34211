package services

import (
	"fmt"
	"log"

	"gorm.io/gorm"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
)

// InventoryService обслуживает плоский путь списания через привязку меню-склад
// (исторический режим до рецептов, включается USE_RECIPE_BASED_DEDUCTION=false)
// и ручные корректировки остатков.
type InventoryService struct {
	db        *gorm.DB
	cfg       *config.Config
	publisher EventPublisher
}

// NewInventoryService создает сервис склада
func NewInventoryService(db *gorm.DB, cfg *config.Config) *InventoryService {
	return &InventoryService{db: db, cfg: cfg}
}

// SetEventPublisher подключает публикацию событий на шину
func (s *InventoryService) SetEventPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// buildFlatRequirements собирает расход склада из плоских привязок меню
func (s *InventoryService) buildFlatRequirements(db *gorm.DB, orderItems []OrderItemInput) (map[int64]*IngredientRequirement, []string, error) {
	menuItemIDs := make([]string, 0, len(orderItems))
	for _, item := range orderItems {
		menuItemIDs = appendUnique(menuItemIDs, item.MenuItemID)
	}

	var mappings []models.MenuItemInventory
	if err := db.Where("menu_item_id IN ?", menuItemIDs).Find(&mappings).Error; err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки привязок меню-склад: %w", err)
	}

	byMenuItem := make(map[string][]models.MenuItemInventory)
	for _, m := range mappings {
		byMenuItem[m.MenuItemID] = append(byMenuItem[m.MenuItemID], m)
	}

	required := make(map[int64]*IngredientRequirement)
	var withoutMappings []string
	for _, item := range orderItems {
		rows, ok := byMenuItem[item.MenuItemID]
		if !ok || len(rows) == 0 {
			withoutMappings = append(withoutMappings, item.MenuItemID)
			continue
		}
		for _, row := range rows {
			req, exists := required[row.InventoryID]
			if !exists {
				req = &IngredientRequirement{InventoryID: row.InventoryID}
				required[row.InventoryID] = req
			}
			req.Quantity += row.Quantity * item.Quantity
			req.OrderItems = appendUnique(req.OrderItems, item.MenuItemID)
		}
	}

	return required, withoutMappings, nil
}

// DeductForOrder списывает остатки по плоским привязкам меню-склад
func (s *InventoryService) DeductForOrder(orderItems []OrderItemInput, orderID, actorID, mode string) (*DeductionResult, error) {
	var result *DeductionResult
	err := withConflictRetry(s.db, func(tx *gorm.DB) error {
		r, txErr := s.DeductForOrderTx(tx, orderItems, orderID, actorID, mode)
		if txErr != nil {
			return txErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Заказ %s: плоское списание %d позиций склада", orderID, len(result.Deductions))
	publishStockWarnings(s.publisher, result.LowStockWarnings)
	return result, nil
}

// DeductForOrderTx выполняет плоское списание внутри транзакции вызывающего,
// коммит и публикация предупреждений остаются за ним
func (s *InventoryService) DeductForOrderTx(tx *gorm.DB, orderItems []OrderItemInput, orderID, actorID, mode string) (*DeductionResult, error) {
	if len(orderItems) == 0 {
		return &DeductionResult{OrderID: orderID, Mode: mode}, nil
	}

	required, withoutMappings, err := s.buildFlatRequirements(tx, orderItems)
	if err != nil {
		return nil, err
	}

	result := &DeductionResult{
		OrderID:             orderID,
		Mode:                mode,
		ItemsWithoutRecipes: withoutMappings,
	}
	if len(required) == 0 {
		log.Printf("⚠️ Заказ %s: позиции меню без привязок к складу, списывать нечего", orderID)
		return result, nil
	}

	entries, warnings, err := applyInventoryMovements(tx, s.cfg, required, models.AdjustmentKindConsumption, models.AdjustmentRefOrder, orderID, actorID, "")
	if err != nil {
		return nil, err
	}
	result.Deductions = entries
	result.LowStockWarnings = warnings
	return result, nil
}

// ManualAdjust выполняет ручную корректировку остатка с журналированием
func (s *InventoryService) ManualAdjust(inventoryID int64, change float64, actorID, reason string) (*DeductionEntry, error) {
	if change == 0 {
		return nil, fmt.Errorf("%w: нулевая корректировка", ErrInvalidConditions)
	}

	required := map[int64]*IngredientRequirement{
		inventoryID: {InventoryID: inventoryID, Quantity: -change},
	}

	var entry DeductionEntry
	err := withConflictRetry(s.db, func(tx *gorm.DB) error {
		entries, _, txErr := applyInventoryMovements(tx, s.cfg, required, models.AdjustmentKindManual, models.AdjustmentRefManual, "", actorID, reason)
		if txErr != nil {
			return txErr
		}
		entry = entries[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Ручная корректировка остатка %d: %+.3f (%s)", inventoryID, change, reason)
	return &entry, nil
}

// GetItem возвращает позицию склада
func (s *InventoryService) GetItem(inventoryID int64) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := s.db.First(&item, inventoryID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: позиция склада %d", ErrNotFound, inventoryID)
		}
		return nil, err
	}
	return &item, nil
}

// ListItems возвращает активные позиции склада
func (s *InventoryService) ListItems() ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	if err := s.db.Where("is_active = ?", true).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListAdjustments возвращает журнал движений по позиции склада
func (s *InventoryService) ListAdjustments(inventoryID int64, limit int) ([]models.InventoryAdjustment, error) {
	if limit <= 0 || limit > s.cfg.MaxExportRows {
		limit = 100
	}
	var adjustments []models.InventoryAdjustment
	if err := s.db.Where("inventory_id = ?", inventoryID).
		Order("created_at DESC").
		Limit(limit).
		Find(&adjustments).Error; err != nil {
		return nil, err
	}
	return adjustments, nil
}

// MarkSyncedToExternal проставляет флаг выгрузки корректировок заказа
// во внешнюю учетную систему
func (s *InventoryService) MarkSyncedToExternal(orderID string) error {
	var adjustments []models.InventoryAdjustment
	if err := s.db.Where("reference_kind = ? AND reference_id = ?",
		models.AdjustmentRefOrder, orderID).
		Find(&adjustments).Error; err != nil {
		return err
	}
	for i := range adjustments {
		meta, err := adjustments[i].GetMetadata()
		if err != nil {
			return err
		}
		meta["synced_to_external"] = true
		if err := adjustments[i].SetMetadata(meta); err != nil {
			return err
		}
		if err := s.db.Model(&models.InventoryAdjustment{}).
			Where("id = ?", adjustments[i].ID).
			Update("metadata", adjustments[i].Metadata).Error; err != nil {
			return err
		}
	}
	log.Printf("📤 Заказ %s: %d корректировок помечены как выгруженные", orderID, len(adjustments))
	return nil
}
