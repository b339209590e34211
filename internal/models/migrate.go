package models

import (
	"log"

	"gorm.io/gorm"
)

// AutoMigrate создает/обновляет все таблицы ядра оркестрации заказов
func AutoMigrate(db *gorm.DB) error {
	log.Println("🔄 Запуск миграции таблиц ядра заказов...")

	tables := []interface{}{
		// Склад
		&InventoryItem{},
		&InventoryAdjustment{},
		&MenuItemInventory{},
		// Рецепты
		&Recipe{},
		&RecipeIngredient{},
		&RecipeSubRecipe{},
		// Ценовые правила
		&PricingRule{},
		&PricingRuleApplication{},
		&PricingRuleMetric{},
		// Очереди
		&OrderQueue{},
		&QueueItem{},
		&QueueItemStatusHistory{},
		&QueueSequenceRule{},
		&QueueMetric{},
		// Приоритеты
		&PriorityRule{},
		&PriorityProfile{},
		&PriorityProfileRule{},
		&QueuePriorityConfig{},
		&OrderPriorityScore{},
		&PriorityAdjustmentLog{},
		// Заказы
		&Order{},
		&OrderItem{},
		&Customer{},
		&AuditLog{},
	}

	for _, table := range tables {
		if err := db.AutoMigrate(table); err != nil {
			log.Printf("❌ Ошибка миграции таблицы %T: %v", table, err)
			return err
		}
	}

	log.Printf("✅ Миграция завершена: %d таблиц", len(tables))
	return nil
}
