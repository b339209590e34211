package services

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
)

// Режимы списания
const (
	DeductionModeOnStart      = "ON_START"
	DeductionModeOnCompletion = "ON_COMPLETION"
	DeductionModePartial      = "PARTIAL"
)

// OrderItemInput представляет позицию заказа для списания
type OrderItemInput struct {
	MenuItemID string  `json:"menu_item_id"`
	Quantity   float64 `json:"quantity"`
}

// IngredientRequirement представляет суммарный расход одной позиции склада
type IngredientRequirement struct {
	InventoryID int64    `json:"inventory_id"`
	Quantity    float64  `json:"quantity"`
	Unit        string   `json:"unit"`
	OrderItems  []string `json:"order_items"` // Позиции меню, давшие вклад
	Recipes     []string `json:"recipes"`     // Рецепты, давшие вклад
}

// DeductionEntry представляет одно выполненное списание
type DeductionEntry struct {
	InventoryID    int64   `json:"inventory_id"`
	Name           string  `json:"name"`
	QuantityBefore float64 `json:"quantity_before"`
	QuantityChange float64 `json:"quantity_change"`
	QuantityAfter  float64 `json:"quantity_after"`
	Unit           string  `json:"unit"`
	AdjustmentID   string  `json:"adjustment_id"`
}

// LowStockWarning представляет предупреждение о низком или отрицательном остатке
type LowStockWarning struct {
	InventoryID  int64   `json:"inventory_id"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	Threshold    float64 `json:"threshold"`
	Unit         string  `json:"unit"`
	WentNegative bool    `json:"went_negative,omitempty"`
}

// DeductionResult представляет итог списания по заказу
type DeductionResult struct {
	OrderID             string            `json:"order_id"`
	Mode                string            `json:"mode"`
	Deductions          []DeductionEntry  `json:"deductions"`
	LowStockWarnings    []LowStockWarning `json:"low_stock_warnings"`
	ItemsWithoutRecipes []string          `json:"items_without_recipes"`
}

// EventPublisher отправляет событие на шину после коммита транзакции
type EventPublisher func(event string, payload map[string]interface{})

// RecipeDeductionService списывает остатки через раскрытие рецептов заказа
// и возвращает их при отмене. Все движения фиксируются строками корректировок.
type RecipeDeductionService struct {
	db        *gorm.DB
	cfg       *config.Config
	publisher EventPublisher
}

// NewRecipeDeductionService создает сервис рецептурного списания
func NewRecipeDeductionService(db *gorm.DB, cfg *config.Config) *RecipeDeductionService {
	return &RecipeDeductionService{db: db, cfg: cfg}
}

// SetEventPublisher подключает публикацию событий на шину
func (s *RecipeDeductionService) SetEventPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// ExpandRequirements раскрывает позиции заказа в суммарный расход склада.
// Рекурсия несет копию множества посещенных рецептов на каждой ветке:
// цикл в данных обрывает спуск без ошибки, остальной заказ списывается.
// Опциональные ингредиенты исключаются. Возвращает также позиции меню без рецептов.
func ExpandRequirements(items []OrderItemInput, recipesByMenuItem map[string]*models.Recipe, recipesByID map[string]*models.Recipe, maxDepth int) (map[int64]*IngredientRequirement, []string) {
	required := make(map[int64]*IngredientRequirement)
	var withoutRecipes []string

	for _, item := range items {
		recipe, ok := recipesByMenuItem[item.MenuItemID]
		if !ok || recipe == nil {
			withoutRecipes = append(withoutRecipes, item.MenuItemID)
			continue
		}
		visited := map[string]bool{recipe.ID: true}
		expandRecipe(recipe, item.Quantity, item.MenuItemID, recipesByID, visited, 0, maxDepth, required)
	}

	return required, withoutRecipes
}

func expandRecipe(recipe *models.Recipe, qty float64, menuItemID string, recipesByID map[string]*models.Recipe, visited map[string]bool, depth, maxDepth int, required map[int64]*IngredientRequirement) {
	if depth > maxDepth {
		log.Printf("⚠️ Рецепт %s: превышена глубина вложенности %d, ветка обрезана", recipe.ID, maxDepth)
		return
	}

	for _, ingredient := range recipe.Ingredients {
		if ingredient.IsOptional {
			continue
		}
		req, ok := required[ingredient.InventoryID]
		if !ok {
			req = &IngredientRequirement{
				InventoryID: ingredient.InventoryID,
				Unit:        ingredient.Unit,
			}
			required[ingredient.InventoryID] = req
		}
		req.Quantity += ingredient.Quantity * qty
		req.OrderItems = appendUnique(req.OrderItems, menuItemID)
		req.Recipes = appendUnique(req.Recipes, recipe.ID)
	}

	for _, sub := range recipe.SubRecipes {
		if visited[sub.ChildRecipeID] {
			// Цикл в графе рецептов: обрываем ветку молча
			continue
		}
		child, ok := recipesByID[sub.ChildRecipeID]
		if !ok || child == nil {
			continue
		}
		// Копия множества: параллельные ветки не видят друг друга
		branchVisited := make(map[string]bool, len(visited)+1)
		for id := range visited {
			branchVisited[id] = true
		}
		branchVisited[sub.ChildRecipeID] = true
		expandRecipe(child, qty*sub.Multiplier, menuItemID, recipesByID, branchVisited, depth+1, maxDepth, required)
	}
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// fetchRecipeClosure загружает рецепты позиций меню вместе со всеми
// вложенными рецептами (итеративно, пока не закроется граф)
func (s *RecipeDeductionService) fetchRecipeClosure(db *gorm.DB, menuItemIDs []string) (map[string]*models.Recipe, map[string]*models.Recipe, error) {
	byMenuItem := make(map[string]*models.Recipe)
	byID := make(map[string]*models.Recipe)

	var roots []models.Recipe
	if err := db.Preload("Ingredients").Preload("SubRecipes").
		Where("menu_item_id IN ? AND is_active = ?", menuItemIDs, true).
		Find(&roots).Error; err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки рецептов: %w", err)
	}

	pending := make([]string, 0)
	for i := range roots {
		r := &roots[i]
		byMenuItem[r.MenuItemID] = r
		byID[r.ID] = r
		for _, sub := range r.SubRecipes {
			pending = append(pending, sub.ChildRecipeID)
		}
	}

	// Дозагружаем вложенные рецепты волнами до замыкания графа
	for depth := 0; len(pending) > 0 && depth <= s.cfg.MaxSubRecipeDepth; depth++ {
		var missing []string
		for _, id := range pending {
			if _, ok := byID[id]; !ok {
				missing = appendUnique(missing, id)
			}
		}
		if len(missing) == 0 {
			break
		}
		var children []models.Recipe
		if err := db.Preload("Ingredients").Preload("SubRecipes").
			Where("id IN ?", missing).
			Find(&children).Error; err != nil {
			return nil, nil, fmt.Errorf("ошибка загрузки вложенных рецептов: %w", err)
		}
		pending = pending[:0]
		for i := range children {
			c := &children[i]
			byID[c.ID] = c
			for _, sub := range c.SubRecipes {
				pending = append(pending, sub.ChildRecipeID)
			}
		}
	}

	return byMenuItem, byID, nil
}

// DeductForOrder атомарно списывает остатки под заказ.
// Блокировки строк склада берутся строго по возрастанию inventory_id,
// это единственная защита от дедлоков между заказами с общими ингредиентами.
func (s *RecipeDeductionService) DeductForOrder(orderItems []OrderItemInput, orderID, actorID, mode string) (*DeductionResult, error) {
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

	log.Printf("✅ Заказ %s: списано %d позиций склада (%s)", orderID, len(result.Deductions), mode)
	publishStockWarnings(s.publisher, result.LowStockWarnings)
	return result, nil
}

// DeductForOrderTx выполняет списание внутри открытой транзакции вызывающего.
// Коммит остается за вызывающим: так смена статуса заказа и расход склада
// фиксируются или откатываются только вместе. События о низких остатках
// вызывающий публикует сам после коммита.
func (s *RecipeDeductionService) DeductForOrderTx(tx *gorm.DB, orderItems []OrderItemInput, orderID, actorID, mode string) (*DeductionResult, error) {
	if len(orderItems) == 0 {
		return &DeductionResult{OrderID: orderID, Mode: mode}, nil
	}

	menuItemIDs := make([]string, 0, len(orderItems))
	for _, item := range orderItems {
		menuItemIDs = appendUnique(menuItemIDs, item.MenuItemID)
	}

	byMenuItem, byID, err := s.fetchRecipeClosure(tx, menuItemIDs)
	if err != nil {
		return nil, err
	}

	required, withoutRecipes := ExpandRequirements(orderItems, byMenuItem, byID, s.cfg.MaxSubRecipeDepth)

	result := &DeductionResult{
		OrderID:             orderID,
		Mode:                mode,
		ItemsWithoutRecipes: withoutRecipes,
	}
	if len(required) == 0 {
		log.Printf("⚠️ Заказ %s: ни одна позиция не раскрылась в расход склада", orderID)
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

// PartialFulfill списывает явные количества вместо количеств позиций заказа
func (s *RecipeDeductionService) PartialFulfill(fulfilledItems []OrderItemInput, orderID, actorID string) (*DeductionResult, error) {
	if !s.cfg.AllowPartialFulfillment {
		return nil, fmt.Errorf("%w: частичное списание отключено конфигурацией", ErrPermissionDenied)
	}
	return s.DeductForOrder(fulfilledItems, orderID, actorID, DeductionModePartial)
}

// PreviewImpact считает проекцию списания без изменения состояния
func (s *RecipeDeductionService) PreviewImpact(orderItems []OrderItemInput) (map[int64]*IngredientRequirement, []Shortage, []string, error) {
	menuItemIDs := make([]string, 0, len(orderItems))
	for _, item := range orderItems {
		menuItemIDs = appendUnique(menuItemIDs, item.MenuItemID)
	}
	byMenuItem, byID, err := s.fetchRecipeClosure(s.db, menuItemIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	required, withoutRecipes := ExpandRequirements(orderItems, byMenuItem, byID, s.cfg.MaxSubRecipeDepth)
	if len(required) == 0 {
		return required, nil, withoutRecipes, nil
	}

	ids := sortedInventoryIDs(required)
	var items []models.InventoryItem
	if err := s.db.Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка загрузки остатков: %w", err)
	}

	itemsByID := make(map[int64]*models.InventoryItem, len(items))
	for i := range items {
		itemsByID[items[i].ID] = &items[i]
	}

	var shortages []Shortage
	for _, id := range ids {
		req := required[id]
		item, ok := itemsByID[id]
		if !ok {
			shortages = append(shortages, Shortage{InventoryID: id, Required: req.Quantity, Unit: req.Unit})
			continue
		}
		if item.Quantity < req.Quantity {
			shortages = append(shortages, Shortage{
				InventoryID: id,
				Name:        item.Name,
				Required:    req.Quantity,
				Available:   item.Quantity,
				Unit:        item.Unit,
			})
		}
	}

	return required, shortages, withoutRecipes, nil
}

// ReverseForOrder возвращает остатки по заказу: на каждое списание CONSUMPTION
// создается зеркальная корректировка RETURN. Повторный вызов не дублирует возврат.
// Если исходное списание уже выгружено во внешнюю систему, возврат запрещен без force.
func (s *RecipeDeductionService) ReverseForOrder(orderID, actorID, reason string, force bool) ([]DeductionEntry, error) {
	var consumptions []models.InventoryAdjustment
	if err := s.db.Where("kind = ? AND reference_kind = ? AND reference_id = ?",
		models.AdjustmentKindConsumption, models.AdjustmentRefOrder, orderID).
		Find(&consumptions).Error; err != nil {
		return nil, fmt.Errorf("ошибка поиска списаний заказа: %w", err)
	}
	if len(consumptions) == 0 {
		return nil, fmt.Errorf("%w: списания по заказу %s не найдены", ErrNotFound, orderID)
	}

	// Защита от двойной выгрузки: флаг synced_to_external блокирует возврат
	if !force {
		for _, adj := range consumptions {
			if adj.IsSyncedToExternal() {
				return nil, fmt.Errorf("%w: списание %s уже выгружено во внешнюю систему", ErrAlreadySynced, adj.ID)
			}
		}
	}

	// Идемпотентность: если возврат уже был, возвращаем его без дублирования
	var existing int64
	if err := s.db.Model(&models.InventoryAdjustment{}).
		Where("kind = ? AND reference_kind = ? AND reference_id = ?",
			models.AdjustmentKindReturn, models.AdjustmentRefOrderReversal, orderID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		log.Printf("⚠️ Заказ %s: возврат уже выполнен ранее, пропускаем", orderID)
		return []DeductionEntry{}, nil
	}

	// Суммируем возврат по позициям склада
	returns := make(map[int64]*IngredientRequirement)
	for _, adj := range consumptions {
		req, ok := returns[adj.InventoryID]
		if !ok {
			req = &IngredientRequirement{InventoryID: adj.InventoryID}
			returns[adj.InventoryID] = req
		}
		// quantity_change списания отрицательный, возвращаем модуль
		req.Quantity += -adj.QuantityChange
	}

	var entries []DeductionEntry
	err := withConflictRetry(s.db, func(tx *gorm.DB) error {
		txEntries, _, txErr := applyInventoryMovements(tx, s.cfg, negate(returns), models.AdjustmentKindReturn, models.AdjustmentRefOrderReversal, orderID, actorID, reason)
		if txErr != nil {
			return txErr
		}
		entries = txEntries
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Заказ %s: возвращено %d позиций склада", orderID, len(entries))
	return entries, nil
}

// negate переворачивает знак требований: списание ждет положительный расход,
// возврат передаем как отрицательный
func negate(required map[int64]*IngredientRequirement) map[int64]*IngredientRequirement {
	out := make(map[int64]*IngredientRequirement, len(required))
	for id, req := range required {
		out[id] = &IngredientRequirement{
			InventoryID: req.InventoryID,
			Quantity:    -req.Quantity,
			Unit:        req.Unit,
			OrderItems:  req.OrderItems,
			Recipes:     req.Recipes,
		}
	}
	return out
}

func sortedInventoryIDs(required map[int64]*IngredientRequirement) []int64 {
	ids := make([]int64, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// applyInventoryMovements выполняет движения остатков внутри открытой транзакции.
// Положительное required.Quantity = расход, отрицательное = возврат.
// Строки склада блокируются по возрастанию id. Общая точка для рецептурного
// и плоского путей списания.
func applyInventoryMovements(tx *gorm.DB, cfg *config.Config, required map[int64]*IngredientRequirement, kind, referenceKind, referenceID, actorID, reason string) ([]DeductionEntry, []LowStockWarning, error) {
	ids := sortedInventoryIDs(required)

	var items []models.InventoryItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, nil, fmt.Errorf("ошибка блокировки остатков: %w", err)
	}

	itemsByID := make(map[int64]*models.InventoryItem, len(items))
	for i := range items {
		itemsByID[items[i].ID] = &items[i]
	}

	// Сначала проверяем достаточность всех позиций: никаких частичных списаний
	var shortages []Shortage
	for _, id := range ids {
		req := required[id]
		item, ok := itemsByID[id]
		if !ok {
			shortages = append(shortages, Shortage{InventoryID: id, Required: req.Quantity, Unit: req.Unit})
			continue
		}
		if req.Quantity > 0 && item.Quantity < req.Quantity && !cfg.AllowNegativeInventory {
			shortages = append(shortages, Shortage{
				InventoryID: id,
				Name:        item.Name,
				Required:    req.Quantity,
				Available:   item.Quantity,
				Unit:        item.Unit,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, nil, &InsufficientInventoryError{Shortages: shortages}
	}

	var entries []DeductionEntry
	var warnings []LowStockWarning

	for _, id := range ids {
		req := required[id]
		item := itemsByID[id]

		before := item.Quantity
		after := before - req.Quantity

		if err := tx.Model(&models.InventoryItem{}).
			Where("id = ?", id).
			Update("quantity", after).Error; err != nil {
			return nil, nil, fmt.Errorf("ошибка обновления остатка %d: %w", id, err)
		}

		adjustment := models.InventoryAdjustment{
			InventoryID:    id,
			Kind:           kind,
			QuantityBefore: before,
			QuantityChange: -req.Quantity,
			QuantityAfter:  after,
			ReferenceKind:  referenceKind,
			ReferenceID:    referenceID,
			ActorID:        actorID,
			Reason:         reason,
		}
		meta := map[string]interface{}{}
		if len(req.OrderItems) > 0 {
			meta["order_items"] = req.OrderItems
		}
		if len(req.Recipes) > 0 {
			meta["recipes"] = req.Recipes
		}
		if len(meta) > 0 {
			if err := adjustment.SetMetadata(meta); err != nil {
				return nil, nil, err
			}
		}
		if err := tx.Create(&adjustment).Error; err != nil {
			return nil, nil, fmt.Errorf("ошибка записи корректировки: %w", err)
		}

		entries = append(entries, DeductionEntry{
			InventoryID:    id,
			Name:           item.Name,
			QuantityBefore: before,
			QuantityChange: -req.Quantity,
			QuantityAfter:  after,
			Unit:           item.Unit,
			AdjustmentID:   adjustment.ID,
		})

		if req.Quantity > 0 {
			threshold := lowStockThresholdFor(item, before, cfg.LowStockWarningThreshold)
			switch {
			case after < 0:
				log.Printf("⚠️ Остаток %s ушел в минус: %.3f %s (разрешено конфигурацией)", item.Name, after, item.Unit)
				warnings = append(warnings, LowStockWarning{
					InventoryID:  id,
					Name:         item.Name,
					Quantity:     after,
					Threshold:    threshold,
					Unit:         item.Unit,
					WentNegative: true,
				})
			case threshold > 0 && after <= threshold:
				warnings = append(warnings, LowStockWarning{
					InventoryID: id,
					Name:        item.Name,
					Quantity:    after,
					Threshold:   threshold,
					Unit:        item.Unit,
				})
			}
		}
	}

	return entries, warnings, nil
}

// lowStockThresholdFor возвращает порог предупреждения позиции. Позиции без
// абсолютного порога контролируются процентом от остатка до списания:
// предупреждаем, когда после списания остается не более warnPct процентов.
func lowStockThresholdFor(item *models.InventoryItem, before, warnPct float64) float64 {
	if item.LowStockThreshold > 0 {
		return item.LowStockThreshold
	}
	if warnPct <= 0 || before <= 0 {
		return 0
	}
	return before * warnPct / 100
}

// withConflictRetry выполняет транзакцию с одним повтором при конфликте
// сериализации или дедлоке. Задержка с джиттером, чтобы развести конкурентов.
func withConflictRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	const maxAttempts = 2
	baseDelay := 10 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(rand.Intn(10))*time.Millisecond
			log.Printf("🔄 Конфликт транзакции, повтор %d через %v", attempt, delay)
			time.Sleep(delay)
		}
		err = db.Transaction(fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

// publishStockWarnings шлет события о низких и отрицательных остатках.
// Вызывается только после коммита породившей их транзакции.
func publishStockWarnings(publisher EventPublisher, warnings []LowStockWarning) {
	if publisher == nil {
		return
	}
	for _, w := range warnings {
		event := "low_stock"
		if w.WentNegative {
			event = "negative_stock"
		}
		publisher(event, map[string]interface{}{
			"inventory_id": w.InventoryID,
			"name":         w.Name,
			"quantity":     w.Quantity,
			"threshold":    w.Threshold,
			"unit":         w.Unit,
		})
		log.Printf("📉 %s: %s %.3f %s (порог %.3f)", event, w.Name, w.Quantity, w.Unit, w.Threshold)
	}
}
