package services

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
)

// openTestDB подключается к тестовой базе из TEST_DATABASE_URL.
// Без переменной окружения тесты на живой базе пропускаются.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан, тест на живой базе пропущен")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	tables := []interface{ TableName() string }{
		models.PricingRuleApplication{},
		models.PricingRuleMetric{},
		models.PricingRule{},
		models.InventoryAdjustment{},
		models.MenuItemInventory{},
		models.RecipeSubRecipe{},
		models.RecipeIngredient{},
		models.Recipe{},
		models.InventoryItem{},
		models.QueueItemStatusHistory{},
		models.QueueMetric{},
		models.QueueSequenceRule{},
		models.OrderPriorityScore{},
		models.PriorityAdjustmentLog{},
		models.QueueItem{},
		models.OrderQueue{},
		models.OrderItem{},
		models.Order{},
		models.Customer{},
		models.AuditLog{},
	}
	for _, table := range tables {
		require.NoError(t, db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table.TableName())).Error)
	}
	return db
}

func orchestrationTestConfig() *config.Config {
	return &config.Config{
		UseRecipeBasedDeduction:   true,
		AllowPartialFulfillment:   true,
		AutoReverseOnCancellation: true,
		LowStockWarningThreshold:  20,
		MaxSubRecipeDepth:         5,
		CacheTTLSeconds:           60,
	}
}

// seedRecipeInventory создает позицию склада и рецепт меню с одним ингредиентом
func seedRecipeInventory(t *testing.T, db *gorm.DB, menuItemID string, stock, perPortion float64) int64 {
	t.Helper()

	item := models.InventoryItem{Name: "Мука " + menuItemID[:8], Quantity: stock, Unit: "g", IsActive: true}
	require.NoError(t, db.Create(&item).Error)

	recipe := models.Recipe{MenuItemID: menuItemID, Name: "Рецепт " + menuItemID[:8], IsActive: true}
	require.NoError(t, db.Create(&recipe).Error)
	require.NoError(t, db.Create(&models.RecipeIngredient{
		RecipeID:    recipe.ID,
		InventoryID: item.ID,
		Quantity:    perPortion,
		Unit:        "g",
	}).Error)
	return item.ID
}

func inventoryQuantity(t *testing.T, db *gorm.DB, id int64) float64 {
	t.Helper()
	var item models.InventoryItem
	require.NoError(t, db.First(&item, "id = ?", id).Error)
	return item.Quantity
}

func adjustmentCount(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.InventoryAdjustment{}).
		Where("reference_id = ?", orderID).Count(&count).Error)
	return count
}

// Переход в статус списания расходует склад ровно один раз: deducted_at
// взводится той же транзакцией, последующие переходы расход не трогают.
func TestTransitionDeductsInventoryOnce(t *testing.T) {
	db := openTestDB(t)
	cfg := orchestrationTestConfig()

	menuItemID := uuid.New().String()
	invID := seedRecipeInventory(t, db, menuItemID, 1000, 250)

	lifecycle := NewOrderLifecycleService(db, cfg)
	lifecycle.SetDeductionServices(NewRecipeDeductionService(db, cfg), NewInventoryService(db, cfg))

	order := &models.Order{
		RestaurantID: "r-lifecycle",
		OrderType:    "dine_in",
		Channel:      "pos",
		Items: []models.OrderItem{
			{MenuItemID: menuItemID, Name: "Пицца", Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
		},
	}
	require.NoError(t, lifecycle.CreateOrder(order, "tester"))

	updated, err := lifecycle.Transition(order.ID, models.OrderStatusInProgress, "tester", "")
	require.NoError(t, err)
	require.NotNil(t, updated.DeductedAt)
	assert.InDelta(t, 500, inventoryQuantity(t, db, invID), 0.001)
	assert.EqualValues(t, 1, adjustmentCount(t, db, order.ID))

	var stored models.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.DeductedAt, "deducted_at фиксируется вместе со статусом")

	// Дальнейшие переходы не задваивают расход
	_, err = lifecycle.Transition(order.ID, models.OrderStatusReady, "tester", "")
	require.NoError(t, err)
	_, err = lifecycle.Transition(order.ID, models.OrderStatusCompleted, "tester", "")
	require.NoError(t, err)
	assert.InDelta(t, 500, inventoryQuantity(t, db, invID), 0.001)
	assert.EqualValues(t, 1, adjustmentCount(t, db, order.ID))
}

// Откат внешней транзакции убирает и списание: ни корректировок,
// ни изменения остатка после Rollback.
func TestDeductForOrderTxRollsBackWithCaller(t *testing.T) {
	db := openTestDB(t)
	cfg := orchestrationTestConfig()

	menuItemID := uuid.New().String()
	invID := seedRecipeInventory(t, db, menuItemID, 1000, 250)
	deductor := NewRecipeDeductionService(db, cfg)
	orderID := uuid.New().String()

	tx := db.Begin()
	require.NoError(t, tx.Error)
	result, err := deductor.DeductForOrderTx(tx,
		[]OrderItemInput{{MenuItemID: menuItemID, Quantity: 2}},
		orderID, "tester", DeductionModeOnStart)
	require.NoError(t, err)
	require.Len(t, result.Deductions, 1)
	require.NoError(t, tx.Rollback().Error)

	assert.InDelta(t, 1000, inventoryQuantity(t, db, invID), 0.001)
	assert.Zero(t, adjustmentCount(t, db, orderID))
}

// Повторный возврат по заказу не дублирует движения склада
func TestReverseForOrderIdempotent(t *testing.T) {
	db := openTestDB(t)
	cfg := orchestrationTestConfig()

	menuItemID := uuid.New().String()
	invID := seedRecipeInventory(t, db, menuItemID, 1000, 250)
	deductor := NewRecipeDeductionService(db, cfg)
	orderID := uuid.New().String()

	_, err := deductor.DeductForOrder(
		[]OrderItemInput{{MenuItemID: menuItemID, Quantity: 2}},
		orderID, "tester", DeductionModeOnStart)
	require.NoError(t, err)
	assert.InDelta(t, 500, inventoryQuantity(t, db, invID), 0.001)

	entries, err := deductor.ReverseForOrder(orderID, "tester", "отмена заказа", false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 1000, inventoryQuantity(t, db, invID), 0.001)

	again, err := deductor.ReverseForOrder(orderID, "tester", "отмена заказа", false)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.InDelta(t, 1000, inventoryQuantity(t, db, invID), 0.001)

	// Одно списание и один возврат, дублей нет
	var kinds []string
	require.NoError(t, db.Model(&models.InventoryAdjustment{}).
		Where("inventory_id = ?", invID).Order("created_at ASC").
		Pluck("kind", &kinds).Error)
	assert.Equal(t, []string{models.AdjustmentKindConsumption, models.AdjustmentKindReturn}, kinds)
}

// Выгрузка списания во внешнюю систему блокирует возврат без force
func TestReverseForOrderBlockedAfterExternalSync(t *testing.T) {
	db := openTestDB(t)
	cfg := orchestrationTestConfig()

	menuItemID := uuid.New().String()
	invID := seedRecipeInventory(t, db, menuItemID, 1000, 250)
	deductor := NewRecipeDeductionService(db, cfg)
	inventory := NewInventoryService(db, cfg)
	orderID := uuid.New().String()

	_, err := deductor.DeductForOrder(
		[]OrderItemInput{{MenuItemID: menuItemID, Quantity: 1}},
		orderID, "tester", DeductionModeOnStart)
	require.NoError(t, err)
	require.NoError(t, inventory.MarkSyncedToExternal(orderID))

	_, err = deductor.ReverseForOrder(orderID, "tester", "отмена заказа", false)
	require.ErrorIs(t, err, ErrAlreadySynced)

	entries, err := deductor.ReverseForOrder(orderID, "tester", "отмена заказа", true)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.InDelta(t, 1000, inventoryQuantity(t, db, invID), 0.001)
}

func seedOrder(t *testing.T, db *gorm.DB, restaurantID string) *models.Order {
	t.Helper()
	order := &models.Order{
		RestaurantID: restaurantID,
		Status:       models.OrderStatusPending,
		OrderType:    "dine_in",
		Channel:      "pos",
		Subtotal:     decimal.NewFromInt(100),
		TotalAmount:  decimal.NewFromInt(100),
		Items: []models.OrderItem{
			{MenuItemID: uuid.New().String(), Name: "Суп", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// Переполненная очередь отклоняет постановку, заказ не встает в две живые позиции
func TestAdmitCapacityAndDuplicateGuards(t *testing.T) {
	db := openTestDB(t)
	cfg := orchestrationTestConfig()
	queues := NewQueueService(db, cfg)

	small := models.OrderQueue{RestaurantID: "r-queue", Name: "Гриль", QueueType: "kitchen", Status: models.QueueStatusActive, Capacity: 1, DefaultPrepMinutes: 10, DefaultPriority: 50}
	require.NoError(t, db.Create(&small).Error)
	roomy := models.OrderQueue{RestaurantID: "r-queue", Name: "Бар", QueueType: "bar", Status: models.QueueStatusActive, Capacity: 5, DefaultPrepMinutes: 5, DefaultPriority: 50}
	require.NoError(t, db.Create(&roomy).Error)

	first := seedOrder(t, db, "r-queue")
	second := seedOrder(t, db, "r-queue")
	third := seedOrder(t, db, "r-queue")

	item, err := queues.Admit(AdmitRequest{QueueID: small.ID, OrderID: first.ID, ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, 1, item.SequenceNumber)

	_, err = queues.Admit(AdmitRequest{QueueID: small.ID, OrderID: second.ID, ActorID: "tester"})
	require.ErrorIs(t, err, ErrQueueFull)

	_, err = queues.Admit(AdmitRequest{QueueID: roomy.ID, OrderID: third.ID, ActorID: "tester"})
	require.NoError(t, err)
	_, err = queues.Admit(AdmitRequest{QueueID: roomy.ID, OrderID: third.ID, ActorID: "tester"})
	require.ErrorIs(t, err, ErrDuplicateOrder)
}

func seedPercentageRule(t *testing.T, db *gorm.DB, restaurantID, name string, percent int64, maxPerCustomer int) *models.PricingRule {
	t.Helper()
	rule := &models.PricingRule{
		RestaurantID:       restaurantID,
		Name:               name,
		RuleType:           models.RuleTypePercentage,
		Status:             models.RuleStatusActive,
		Priority:           3,
		DiscountValue:      decimal.NewFromInt(percent),
		ValidFrom:          time.Now().UTC().Add(-time.Hour),
		MaxUsesPerCustomer: maxPerCustomer,
	}
	require.NoError(t, db.Create(rule).Error)
	return rule
}

func snapshotFor(restaurantID, customerID string) *OrderSnapshot {
	return &OrderSnapshot{
		OrderID:      uuid.New().String(),
		RestaurantID: restaurantID,
		CustomerID:   customerID,
		Subtotal:     decimal.NewFromInt(100),
	}
}

// Персональный лимит использований: второй заказ клиента правило уже не получает,
// анонимный заказ не проходит лимитированное правило вовсе.
func TestEvaluateEnforcesPerCustomerUsageCap(t *testing.T) {
	db := openTestDB(t)
	pricing := NewPricingRuleService(db, orchestrationTestConfig())
	const rest = "r-cap"

	customer := models.Customer{RestaurantID: rest, Name: "Анна", Phone: "+70000000001"}
	require.NoError(t, db.Create(&customer).Error)
	seedPercentageRule(t, db, rest, "Личная скидка", 10, 1)

	first, err := pricing.Evaluate(snapshotFor(rest, customer.ID), models.ApplicationSourceSystem, false)
	require.NoError(t, err)
	require.Len(t, first.Applied, 1)
	assert.Equal(t, "10.00", first.TotalDiscount.StringFixed(2))

	second, err := pricing.Evaluate(snapshotFor(rest, customer.ID), models.ApplicationSourceSystem, false)
	require.NoError(t, err)
	assert.Empty(t, second.Applied)
	require.Len(t, second.Skipped, 1)
	assert.Equal(t, "персональный лимит использований исчерпан", second.Skipped[0].SkipReason)

	anonymous, err := pricing.Evaluate(snapshotFor(rest, ""), models.ApplicationSourceSystem, false)
	require.NoError(t, err)
	assert.Empty(t, anonymous.Applied)
	require.Len(t, anonymous.Skipped, 1)
	assert.Equal(t, "клиент не определен для персонального лимита", anonymous.Skipped[0].SkipReason)
}

// Суточные счетчики оценок: у проигравшего конфликт растет times_skipped,
// у победителя conflicts_resolved и times_applied.
func TestEvaluateRecordsEvaluationMetrics(t *testing.T) {
	db := openTestDB(t)
	pricing := NewPricingRuleService(db, orchestrationTestConfig())
	const rest = "r-metrics"

	loser := seedPercentageRule(t, db, rest, "Скидка 10", 10, 0)
	winner := seedPercentageRule(t, db, rest, "Скидка 20", 20, 0)

	outcome, err := pricing.Evaluate(snapshotFor(rest, ""), models.ApplicationSourceSystem, false)
	require.NoError(t, err)
	require.Len(t, outcome.Applied, 1)
	assert.Equal(t, winner.ID, outcome.Applied[0].RuleID)

	var winnerMetric, loserMetric models.PricingRuleMetric
	require.NoError(t, db.First(&winnerMetric, "rule_id = ?", winner.ID).Error)
	require.NoError(t, db.First(&loserMetric, "rule_id = ?", loser.ID).Error)

	assert.Equal(t, 1, winnerMetric.TimesEvaluated)
	assert.Equal(t, 1, winnerMetric.TimesApplied)
	assert.Equal(t, 0, winnerMetric.TimesSkipped)
	assert.Equal(t, 1, winnerMetric.ConflictsResolved)

	assert.Equal(t, 1, loserMetric.TimesEvaluated)
	assert.Equal(t, 0, loserMetric.TimesApplied)
	assert.Equal(t, 1, loserMetric.TimesSkipped)
	assert.Equal(t, 0, loserMetric.ConflictsResolved)
}
