package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
)

// OrderLifecycleService ведет заказ по графу статусов и дергает движок скидок,
// списание склада и возвраты в нужных точках. Ошибки дочерних сервисов
// пробрасываются вызывающей стороне как есть, смена статуса откатывается.
type OrderLifecycleService struct {
	db            *gorm.DB
	cfg           *config.Config
	pricing       *PricingRuleService
	deductor      *RecipeDeductionService
	flatInventory *InventoryService
}

// NewOrderLifecycleService создает контроллер жизненного цикла заказов
func NewOrderLifecycleService(db *gorm.DB, cfg *config.Config) *OrderLifecycleService {
	return &OrderLifecycleService{db: db, cfg: cfg}
}

// SetPricingService подключает движок скидок
func (s *OrderLifecycleService) SetPricingService(pricing *PricingRuleService) {
	s.pricing = pricing
}

// SetDeductionServices подключает оба пути списания склада
func (s *OrderLifecycleService) SetDeductionServices(deductor *RecipeDeductionService, flat *InventoryService) {
	s.deductor = deductor
	s.flatInventory = flat
}

// deductionTrigger возвращает статус, на котором списываются остатки
func (s *OrderLifecycleService) deductionTrigger() string {
	if s.cfg.DeductOnCompletion {
		return models.OrderStatusCompleted
	}
	return models.OrderStatusInProgress
}

// CreateOrder создает заказ в PENDING, считая сумму из позиций
func (s *OrderLifecycleService) CreateOrder(order *models.Order, actorID string) error {
	subtotal := decimal.Zero
	for i := range order.Items {
		subtotal = subtotal.Add(order.Items[i].LineTotal())
	}
	order.Status = models.OrderStatusPending
	order.Subtotal = subtotal
	order.TotalAmount = subtotal
	order.DiscountTotal = decimal.Zero

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("ошибка создания заказа: %w", err)
		}
		return writeAudit(tx, "order", order.ID, "create", "", models.OrderStatusPending, actorID)
	})
}

// GetOrder возвращает заказ с позициями и клиентом
func (s *OrderLifecycleService) GetOrder(orderID string) (*models.Order, error) {
	var order models.Order
	if err := s.db.Preload("Items").Preload("Customer").
		First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: заказ %s", ErrNotFound, orderID)
		}
		return nil, err
	}
	return &order, nil
}

// Transition переводит заказ в новый статус. На статусе списания сначала
// применяются скидки, затем списывается склад: либо оба шага успешны, либо
// переход отклоняется. Отмена с включенным автовозвратом возвращает остатки.
func (s *OrderLifecycleService) Transition(orderID, newStatus, actorID, reason string) (*models.Order, error) {
	order, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	oldStatus := order.Status
	if !models.CanTransitionOrder(oldStatus, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldStatus, newStatus)
	}

	baseEffects := map[string]interface{}{}
	needDeduction := newStatus == s.deductionTrigger() && order.DeductedAt == nil

	// Скидки применяются до списания. Повторный вызов Evaluate для заказа
	// с записанными применениями ничего не делает, поэтому шаг безопасен
	// даже если последующая транзакция статуса не зафиксируется.
	if needDeduction && order.PricingAppliedAt == nil && s.pricing != nil {
		snapshot := s.snapshotFromOrder(order)
		outcome, err := s.pricing.Evaluate(snapshot, models.ApplicationSourceSystem, false)
		if err != nil {
			return nil, fmt.Errorf("применение скидок отклонило переход: %w", err)
		}
		baseEffects["pricing_applied"] = len(outcome.Applied)
		baseEffects["discount_total"] = outcome.TotalDiscount.StringFixed(2)
	}

	// Отмена возвращает остатки, если они уже были списаны.
	// ReverseForOrder идемпотентен: повтор после сбоя не задвоит возврат.
	if newStatus == models.OrderStatusCancelled && s.cfg.AutoReverseOnCancellation && order.DeductedAt != nil {
		if s.deductor == nil {
			return nil, fmt.Errorf("%w: сервис возврата не подключен", ErrPermissionDenied)
		}
		returns, err := s.deductor.ReverseForOrder(orderID, actorID, "отмена заказа", false)
		if err != nil {
			return nil, err
		}
		baseEffects["returns"] = len(returns)
	}

	// Списание и смена статуса фиксируются одной транзакцией: сбой любого
	// шага откатывает оба, повтор перехода не задвоит расход склада.
	var deduction *DeductionResult
	var deductedAt *time.Time
	err = withConflictRetry(s.db, func(tx *gorm.DB) error {
		effects := make(map[string]interface{}, len(baseEffects)+4)
		for k, v := range baseEffects {
			effects[k] = v
		}
		deduction = nil
		deductedAt = order.DeductedAt

		if needDeduction {
			d, txErr := s.runDeduction(tx, order, actorID)
			if txErr != nil {
				return txErr
			}
			deduction = d
			effects["deductions"] = len(d.Deductions)
			if len(d.LowStockWarnings) > 0 {
				effects["low_stock_warnings"] = len(d.LowStockWarnings)
			}
			if len(d.ItemsWithoutRecipes) > 0 {
				effects["items_without_recipes"] = d.ItemsWithoutRecipes
			}
			now := time.Now().UTC()
			deductedAt = &now
		}

		updates := map[string]interface{}{"status": newStatus}
		if deductedAt != nil {
			updates["deducted_at"] = deductedAt
		}
		if err := tx.Model(&models.Order{}).
			Where("id = ?", orderID).
			Updates(updates).Error; err != nil {
			return err
		}

		audit := models.AuditLog{
			EntityKind: "order",
			EntityID:   orderID,
			Action:     "status_change",
			OldValue:   oldStatus,
			NewValue:   newStatus,
			ActorID:    actorID,
		}
		if reason != "" {
			effects["reason"] = reason
		}
		if len(effects) > 0 {
			details, mErr := json.Marshal(effects)
			if mErr == nil {
				audit.Details = string(details)
			}
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		return nil, err
	}

	order.Status = newStatus
	order.DeductedAt = deductedAt
	if deduction != nil {
		publishStockWarnings(s.deductionPublisher(), deduction.LowStockWarnings)
	}
	log.Printf("📦 Заказ %s: %s -> %s (%s)", orderID, oldStatus, newStatus, actorID)
	return order, nil
}

// runDeduction списывает склад выбранным конфигурацией путем
// внутри транзакции перехода статуса
func (s *OrderLifecycleService) runDeduction(tx *gorm.DB, order *models.Order, actorID string) (*DeductionResult, error) {
	items := make([]OrderItemInput, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, OrderItemInput{
			MenuItemID: line.MenuItemID,
			Quantity:   float64(line.Quantity),
		})
	}

	mode := DeductionModeOnStart
	if s.cfg.DeductOnCompletion {
		mode = DeductionModeOnCompletion
	}

	if s.cfg.UseRecipeBasedDeduction {
		if s.deductor == nil {
			return nil, fmt.Errorf("%w: сервис рецептурного списания не подключен", ErrPermissionDenied)
		}
		return s.deductor.DeductForOrderTx(tx, items, order.ID, actorID, mode)
	}
	if s.flatInventory == nil {
		return nil, fmt.Errorf("%w: сервис плоского списания не подключен", ErrPermissionDenied)
	}
	return s.flatInventory.DeductForOrderTx(tx, items, order.ID, actorID, mode)
}

// deductionPublisher возвращает издателя событий активного пути списания
func (s *OrderLifecycleService) deductionPublisher() EventPublisher {
	if s.cfg.UseRecipeBasedDeduction {
		if s.deductor != nil {
			return s.deductor.publisher
		}
		return nil
	}
	if s.flatInventory != nil {
		return s.flatInventory.publisher
	}
	return nil
}

func (s *OrderLifecycleService) snapshotFromOrder(order *models.Order) *OrderSnapshot {
	customerID := ""
	if order.CustomerID != nil {
		customerID = *order.CustomerID
	}
	return &OrderSnapshot{
		OrderID:       order.ID,
		RestaurantID:  order.RestaurantID,
		CustomerID:    customerID,
		Subtotal:      order.Subtotal,
		Items:         order.Items,
		PaymentMethod: order.PaymentMethod,
		OrderType:     order.OrderType,
		Channel:       order.Channel,
		Customer:      order.Customer,
	}
}
