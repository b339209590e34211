package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
	"aurorapos/server/internal/utils"
)

// QueueSnapshotChannel несет id очередей, чьи кэшированные снимки устарели
const QueueSnapshotChannel = "queue:snapshot:invalidate"

// AdmitRequest представляет заявку на постановку заказа в очередь
type AdmitRequest struct {
	QueueID         string     `json:"queue_id"`
	OrderID         string     `json:"order_id"`
	HoldUntil       *time.Time `json:"hold_until,omitempty"`
	ProfileOverride string     `json:"profile_override,omitempty"`
	ActorID         string     `json:"actor_id,omitempty"`
}

// BatchStatusResult представляет исход одной позиции пакетной смены статуса
type BatchStatusResult struct {
	QueueItemID string `json:"queue_item_id"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// QueueService управляет позициями в очередях станций: постановка,
// перемещение, переводы, статусы. Мутации очереди атомарны: наблюдатели
// видят либо состояние до, либо после.
type QueueService struct {
	db        *gorm.DB
	cfg       *config.Config
	scorer    *PriorityScoreService
	publisher EventPublisher
	redis     *utils.RedisClient
}

// NewQueueService создает сервис очередей
func NewQueueService(db *gorm.DB, cfg *config.Config) *QueueService {
	return &QueueService{db: db, cfg: cfg}
}

// SetPriorityScoreService подключает расчет приоритетов
func (s *QueueService) SetPriorityScoreService(scorer *PriorityScoreService) {
	s.scorer = scorer
}

// SetEventPublisher подключает публикацию событий на шину
func (s *QueueService) SetEventPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// SetRedisClient подключает кэш снимков очередей
func (s *QueueService) SetRedisClient(redis *utils.RedisClient) {
	s.redis = redis
}

// invalidateSnapshot сбрасывает кэшированный снимок очереди и оповещает
// другие инстансы через Pub/Sub
func (s *QueueService) invalidateSnapshot(queueID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Delete("queue:snapshot:" + queueID); err != nil {
		log.Printf("⚠️ Сброс кэша снимка очереди %s не удался: %v", queueID, err)
	}
	if err := s.redis.Publish(QueueSnapshotChannel, queueID); err != nil {
		log.Printf("⚠️ Публикация инвалидации очереди %s не удалась: %v", queueID, err)
	}
}

func (s *QueueService) publish(event, queueID, itemID string, data map[string]interface{}) {
	s.invalidateSnapshot(queueID)
	if s.publisher == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["queue_id"] = queueID
	data["item_id"] = itemID
	s.publisher(event, data)
}

// lockQueue блокирует строку очереди на время мутации
func lockQueue(tx *gorm.DB, queueID string) (*models.OrderQueue, error) {
	var queue models.OrderQueue
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&queue, "id = ?", queueID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: очередь %s", ErrNotFound, queueID)
		}
		return nil, err
	}
	return &queue, nil
}

// liveItems возвращает живые элементы очереди по порядку следования
func liveItems(tx *gorm.DB, queueID string) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := tx.Where("queue_id = ? AND status NOT IN ?", queueID,
		[]string{models.QueueItemStatusCompleted, models.QueueItemStatusCancelled}).
		Order("sequence_number ASC").
		Find(&items).Error
	return items, err
}

// shiftSequences сдвигает живые элементы очереди в диапазоне на delta.
// Сдвиг по одному в безопасном порядке, чтобы не споткнуться об уникальность
// (queue_id, sequence_number) по дороге.
func shiftSequences(tx *gorm.DB, queueID string, from, to, delta int) error {
	var items []models.QueueItem
	order := "sequence_number DESC"
	if delta < 0 {
		order = "sequence_number ASC"
	}
	if err := tx.Where("queue_id = ? AND sequence_number >= ? AND sequence_number <= ? AND status NOT IN ?",
		queueID, from, to,
		[]string{models.QueueItemStatusCompleted, models.QueueItemStatusCancelled}).
		Order(order).
		Find(&items).Error; err != nil {
		return err
	}
	for _, item := range items {
		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", item.ID).
			Update("sequence_number", item.SequenceNumber+delta).Error; err != nil {
			return err
		}
	}
	return nil
}

// writeStatusHistory записывает строку журнала смен статусов
func writeStatusHistory(tx *gorm.DB, itemID string, oldStatus *string, newStatus, reason, actorID string) error {
	return tx.Create(&models.QueueItemStatusHistory{
		QueueItemID: itemID,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Reason:      reason,
		ChangedBy:   actorID,
	}).Error
}

// computeAdmitPriority считает приоритет для нового элемента: сначала скоринг,
// при любой его ошибке запасной приоритет очереди
func (s *QueueService) computeAdmitPriority(req AdmitRequest, queue *models.OrderQueue, now time.Time) float64 {
	if s.scorer == nil {
		return queue.DefaultPriority
	}

	qpc, err := s.scorer.loadQueueConfig(req.QueueID)
	if err != nil {
		return queue.DefaultPriority
	}
	profile := qpc.Profile
	if req.ProfileOverride != "" {
		var override models.PriorityProfile
		if err := s.db.Preload("Rules.Rule").
			First(&override, "id = ? AND is_active = ?", req.ProfileOverride, true).Error; err == nil {
			profile = &override
		}
	}
	if profile == nil {
		return queue.DefaultPriority
	}

	var order models.Order
	if err := s.db.Preload("Customer").Preload("Items").
		First(&order, "id = ?", req.OrderID).Error; err != nil {
		return queue.DefaultPriority
	}

	// Элемента еще нет, подставляем временный с нулевым временем ожидания
	transient := models.QueueItem{QueueID: req.QueueID, OrderID: req.OrderID, QueuedAt: now}
	breakdown, err := s.scorer.ComputeBreakdown(profile, qpc, &order, &transient, now)
	if err != nil {
		log.Printf("⚠️ Скоринг при постановке заказа %s не удался, берем приоритет очереди: %v", req.OrderID, err)
		return queue.DefaultPriority
	}
	return breakdown.Total
}

// applySequenceRules применяет правила постановки очереди к заявке.
// Правила идут по убыванию собственного приоритета и могут поднять приоритет,
// сдвинуть позицию, авто-ускорить и назначить станцию.
func (s *QueueService) applySequenceRules(queueID string, order *OrderSnapshot, priority float64) (float64, int, bool, string) {
	var rules []models.QueueSequenceRule
	if err := s.db.Where("queue_id = ? AND is_active = ?", queueID, true).
		Order("priority DESC").
		Find(&rules).Error; err != nil {
		log.Printf("⚠️ Ошибка загрузки правил постановки очереди %s: %v", queueID, err)
		return priority, 0, false, ""
	}

	sequenceAdjustment := 0
	expedite := false
	station := ""
	now := time.Now().UTC()

	for _, rule := range rules {
		var conditions models.RuleConditions
		if rule.Conditions != "" && rule.Conditions != "{}" {
			parsed := models.PricingRule{Conditions: rule.Conditions}
			c, err := parsed.GetConditions()
			if err != nil {
				continue
			}
			conditions = *c
		}

		if ok, _ := EvaluateTimeConditions(conditions.Time, now); !ok {
			continue
		}
		if ok, _ := EvaluateItemConditions(conditions.Items, order); !ok {
			continue
		}
		if ok, _ := EvaluateCustomerConditions(conditions.Customer, order, now); !ok {
			continue
		}
		if ok, _ := EvaluateOrderConditions(conditions.Order, order); !ok {
			continue
		}

		priority += rule.PriorityAdjustment
		sequenceAdjustment += rule.SequenceAdjustment
		if rule.AutoExpedite {
			expedite = true
		}
		if rule.AssignStation != "" {
			station = rule.AssignStation
		}
	}

	return priority, sequenceAdjustment, expedite, station
}

// Admit ставит заказ в очередь на позицию, продиктованную приоритетом.
// При гонке за sequence_number постановка повторяется один раз с хвостовой позицией.
func (s *QueueService) Admit(req AdmitRequest) (*models.QueueItem, error) {
	now := time.Now().UTC()

	var queue models.OrderQueue
	if err := s.db.First(&queue, "id = ?", req.QueueID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: очередь %s", ErrNotFound, req.QueueID)
		}
		return nil, err
	}

	priority := s.computeAdmitPriority(req, &queue, now)

	snapshot, err := s.loadOrderSnapshot(req.OrderID)
	if err != nil {
		return nil, err
	}
	priority, seqAdjust, expedite, station := s.applySequenceRules(req.QueueID, snapshot, priority)

	var item *models.QueueItem
	admit := func(appendTail bool) error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			lockedQueue, err := lockQueue(tx, req.QueueID)
			if err != nil {
				return err
			}
			if lockedQueue.Status != models.QueueStatusActive {
				return fmt.Errorf("%w: очередь %s в статусе %s", ErrPermissionDenied, req.QueueID, lockedQueue.Status)
			}
			if lockedQueue.CurrentSize >= lockedQueue.Capacity {
				return fmt.Errorf("%w: очередь %s заполнена (%d/%d)", ErrQueueFull, req.QueueID, lockedQueue.CurrentSize, lockedQueue.Capacity)
			}

			// Заказ не может стоять в двух живых позициях одновременно
			var duplicates int64
			if err := tx.Model(&models.QueueItem{}).
				Where("order_id = ? AND status NOT IN ?", req.OrderID,
					[]string{models.QueueItemStatusCompleted, models.QueueItemStatusCancelled}).
				Count(&duplicates).Error; err != nil {
				return err
			}
			if duplicates > 0 {
				return fmt.Errorf("%w: заказ %s уже в очереди", ErrDuplicateOrder, req.OrderID)
			}

			items, err := liveItems(tx, req.QueueID)
			if err != nil {
				return err
			}

			// Позиция по приоритету: перед первым элементом с меньшим приоритетом
			position := len(items) + 1
			if !appendTail {
				for i, existing := range items {
					if existing.Priority < priority {
						position = i + 1
						break
					}
				}
				position += seqAdjust
				if position < 1 {
					position = 1
				}
				if position > len(items)+1 {
					position = len(items) + 1
				}
			}

			if position <= len(items) {
				if err := shiftSequences(tx, req.QueueID, position, len(items), 1); err != nil {
					return err
				}
			}

			status := models.QueueItemStatusQueued
			if req.HoldUntil != nil {
				status = models.QueueItemStatusOnHold
			}

			newItem := models.QueueItem{
				QueueID:         req.QueueID,
				OrderID:         req.OrderID,
				SequenceNumber:  position,
				Priority:        priority,
				IsExpedited:     expedite,
				Status:          status,
				QueuedAt:        now,
				HoldUntil:       req.HoldUntil,
				AssignedStation: station,
			}
			prep := time.Duration(lockedQueue.DefaultPrepMinutes) * time.Minute
			estimated := now.Add(prep * time.Duration(position))
			newItem.EstimatedReadyAt = &estimated

			if err := tx.Create(&newItem).Error; err != nil {
				return err
			}
			if err := writeStatusHistory(tx, newItem.ID, nil, status, "постановка в очередь", req.ActorID); err != nil {
				return err
			}
			if err := tx.Model(&models.OrderQueue{}).
				Where("id = ?", req.QueueID).
				Update("current_size", gorm.Expr("current_size + 1")).Error; err != nil {
				return err
			}

			item = &newItem
			return nil
		})
	}

	err = admit(false)
	if err != nil && isUniqueViolation(err) {
		// Гонка за позицию: один повтор с хвостовой последовательностью
		log.Printf("🔄 Конфликт позиции в очереди %s, повтор постановки в хвост", req.QueueID)
		err = admit(true)
	}
	if err != nil {
		return nil, err
	}

	if s.scorer != nil {
		if _, scoreErr := s.scorer.ComputeScore(item.ID, req.ProfileOverride); scoreErr != nil {
			log.Printf("⚠️ Приоритет элемента %s не сохранен: %v", item.ID, scoreErr)
		}
	}

	s.bumpQueueMetric(req.QueueID, now, "items_admitted")
	s.publish("item_added", req.QueueID, item.ID, map[string]interface{}{
		"order_id": req.OrderID,
		"sequence": item.SequenceNumber,
		"priority": item.Priority,
		"status":   item.Status,
	})
	log.Printf("✅ Заказ %s в очереди %s: позиция %d, приоритет %.1f", req.OrderID, req.QueueID, item.SequenceNumber, item.Priority)
	return item, nil
}

func (s *QueueService) loadOrderSnapshot(orderID string) (*OrderSnapshot, error) {
	var order models.Order
	if err := s.db.Preload("Customer").Preload("Items").
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
	}, nil
}

// Move переставляет элемент на новую позицию, сдвигая остальных.
// Одна транзакция: либо вся перестановка, либо ничего.
func (s *QueueService) Move(itemID string, newPosition int, reason, actorID string) error {
	if newPosition < 1 {
		return fmt.Errorf("%w: позиция %d", ErrInvalidConditions, newPosition)
	}

	var queueID string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, "id = ?", itemID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: элемент %s", ErrNotFound, itemID)
			}
			return err
		}
		if !item.IsLive() {
			return fmt.Errorf("%w: элемент %s уже завершен", ErrInvalidTransition, itemID)
		}
		queueID = item.QueueID

		if _, err := lockQueue(tx, item.QueueID); err != nil {
			return err
		}

		items, err := liveItems(tx, item.QueueID)
		if err != nil {
			return err
		}
		if newPosition > len(items) {
			newPosition = len(items)
		}

		oldPosition := item.SequenceNumber
		if oldPosition == newPosition {
			return nil
		}

		// Паркуем элемент вне диапазона, чтобы сдвиг не уперся в уникальность
		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", itemID).
			Update("sequence_number", -1).Error; err != nil {
			return err
		}

		if newPosition < oldPosition {
			// Вверх: элементы [new..old-1] сдвигаются вниз
			if err := shiftSequences(tx, item.QueueID, newPosition, oldPosition-1, 1); err != nil {
				return err
			}
		} else {
			// Вниз: элементы (old..new] сдвигаются вверх
			if err := shiftSequences(tx, item.QueueID, oldPosition+1, newPosition, -1); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", itemID).
			Update("sequence_number", newPosition).Error; err != nil {
			return err
		}

		return tx.Create(&models.PriorityAdjustmentLog{
			QueueItemID: itemID,
			QueueID:     item.QueueID,
			Action:      "move",
			OldValue:    float64(oldPosition),
			NewValue:    float64(newPosition),
			Reason:      reason,
			ActorID:     actorID,
		}).Error
	})
	if err != nil {
		return err
	}

	s.publish("item_moved", queueID, itemID, map[string]interface{}{
		"new_position": newPosition,
		"reason":       reason,
	})
	return nil
}

// Transfer переводит элемент в другую очередь. Приоритет либо сохраняется,
// либо пересчитывается по профилю целевой очереди.
func (s *QueueService) Transfer(itemID, targetQueueID string, maintainPriority bool, reason, actorID string) (*models.QueueItem, error) {
	var moved *models.QueueItem
	var sourceQueue string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, "id = ?", itemID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: элемент %s", ErrNotFound, itemID)
			}
			return err
		}
		if !item.IsLive() {
			return fmt.Errorf("%w: элемент %s уже завершен", ErrInvalidTransition, itemID)
		}
		if item.QueueID == targetQueueID {
			return fmt.Errorf("%w: элемент уже в очереди %s", ErrInvalidConditions, targetQueueID)
		}

		// Блокируем обе очереди в устойчивом порядке по id
		ids := []string{item.QueueID, targetQueueID}
		sort.Strings(ids)
		var target *models.OrderQueue
		for _, qid := range ids {
			q, err := lockQueue(tx, qid)
			if err != nil {
				return err
			}
			if qid == targetQueueID {
				target = q
			}
		}
		if target.CurrentSize >= target.Capacity {
			return fmt.Errorf("%w: очередь %s заполнена", ErrQueueFull, targetQueueID)
		}

		sourceQueueID := item.QueueID
		sourceQueue = sourceQueueID
		oldSequence := item.SequenceNumber

		// Хвост целевой очереди
		targetItems, err := liveItems(tx, targetQueueID)
		if err != nil {
			return err
		}
		newSequence := len(targetItems) + 1

		updates := map[string]interface{}{
			"queue_id":        targetQueueID,
			"sequence_number": newSequence,
		}
		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", itemID).
			Updates(updates).Error; err != nil {
			return err
		}

		// Уплотняем исходную очередь
		sourceItems, err := liveItems(tx, sourceQueueID)
		if err != nil {
			return err
		}
		if err := shiftAfterRemoval(tx, sourceQueueID, oldSequence, sourceItems); err != nil {
			return err
		}

		if err := tx.Model(&models.OrderQueue{}).Where("id = ?", sourceQueueID).
			Update("current_size", gorm.Expr("current_size - 1")).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.OrderQueue{}).Where("id = ?", targetQueueID).
			Update("current_size", gorm.Expr("current_size + 1")).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.PriorityAdjustmentLog{
			QueueItemID: itemID,
			QueueID:     targetQueueID,
			Action:      "transfer",
			OldValue:    float64(oldSequence),
			NewValue:    float64(newSequence),
			Reason:      reason,
			ActorID:     actorID,
		}).Error; err != nil {
			return err
		}

		item.QueueID = targetQueueID
		item.SequenceNumber = newSequence
		moved = &item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !maintainPriority && s.scorer != nil {
		if _, scoreErr := s.scorer.ComputeScore(itemID, ""); scoreErr != nil {
			log.Printf("⚠️ Пересчет приоритета после перевода %s не удался: %v", itemID, scoreErr)
		}
	}

	s.publish("item_transferred_out", sourceQueue, itemID, map[string]interface{}{
		"target_queue_id": targetQueueID,
		"reason":          reason,
	})
	s.publish("item_transferred_in", targetQueueID, itemID, map[string]interface{}{
		"reason":            reason,
		"maintain_priority": maintainPriority,
	})
	log.Printf("🔀 Элемент %s переведен в очередь %s (%s)", itemID, targetQueueID, reason)
	return moved, nil
}

// shiftAfterRemoval уплотняет последовательность после ухода элемента с позиции
func shiftAfterRemoval(tx *gorm.DB, queueID string, removedSequence int, items []models.QueueItem) error {
	for _, item := range items {
		if item.SequenceNumber > removedSequence {
			if err := tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Update("sequence_number", item.SequenceNumber-1).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// Expedite ускоряет элемент: буст приоритета и, по запросу, перенос в начало
func (s *QueueService) Expedite(itemID string, priorityBoost float64, moveToFront bool, reason, actorID string) error {
	var item models.QueueItem
	if err := s.db.First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("%w: элемент %s", ErrNotFound, itemID)
		}
		return err
	}
	if !item.IsLive() {
		return fmt.Errorf("%w: элемент %s уже завершен", ErrInvalidTransition, itemID)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", itemID).
			Updates(map[string]interface{}{
				"is_expedited": true,
				"priority":     gorm.Expr("priority + ?", priorityBoost),
			}).Error; err != nil {
			return err
		}
		return tx.Create(&models.PriorityAdjustmentLog{
			QueueItemID: itemID,
			QueueID:     item.QueueID,
			Action:      "expedite",
			OldValue:    item.Priority,
			NewValue:    item.Priority + priorityBoost,
			Reason:      reason,
			ActorID:     actorID,
		}).Error
	})
	if err != nil {
		return err
	}

	if priorityBoost > 0 && s.scorer != nil {
		if _, boostErr := s.scorer.ApplyBoost(itemID, priorityBoost, reason, 0); boostErr != nil {
			log.Printf("⚠️ Буст приоритета %s не записан: %v", itemID, boostErr)
		}
	}

	if moveToFront {
		if err := s.Move(itemID, 1, reason, actorID); err != nil {
			return err
		}
	}

	s.publish("item_expedited", item.QueueID, itemID, map[string]interface{}{
		"priority_boost": priorityBoost,
		"move_to_front":  moveToFront,
		"reason":         reason,
	})
	return nil
}

// Hold ставит элемент на паузу до указанного времени
func (s *QueueService) Hold(itemID string, until time.Time, reason, actorID string) error {
	err := s.transition(itemID, models.QueueItemStatusOnHold, reason, actorID, func(updates map[string]interface{}) {
		updates["hold_until"] = until
		updates["hold_reason"] = reason
	})
	if err != nil {
		return err
	}
	return nil
}

// ReleaseHold снимает элемент с паузы: обратно в QUEUED, поля паузы очищаются
func (s *QueueService) ReleaseHold(itemID, actorID string) error {
	return s.transition(itemID, models.QueueItemStatusQueued, "снятие с паузы", actorID, func(updates map[string]interface{}) {
		updates["hold_until"] = nil
		updates["hold_reason"] = ""
	})
}

// SetStatus переводит элемент в новый статус по графу переходов
func (s *QueueService) SetStatus(itemID, newStatus, reason, actorID string) error {
	return s.transition(itemID, newStatus, reason, actorID, nil)
}

// transition выполняет смену статуса с побочными эффектами времени,
// журналом и поддержанием счетчика живых элементов очереди
func (s *QueueService) transition(itemID, newStatus, reason, actorID string, extra func(map[string]interface{})) error {
	now := time.Now().UTC()
	var queueID string
	var completed bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, "id = ?", itemID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: элемент %s", ErrNotFound, itemID)
			}
			return err
		}
		queueID = item.QueueID

		if !models.CanTransitionQueueItem(item.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, newStatus)
		}

		updates := map[string]interface{}{"status": newStatus}
		switch newStatus {
		case models.QueueItemStatusInPreparation:
			updates["started_at"] = now
		case models.QueueItemStatusReady:
			updates["ready_at"] = now
			if item.StartedAt != nil {
				updates["prep_time_actual"] = int(now.Sub(*item.StartedAt).Minutes())
			}
		case models.QueueItemStatusCompleted:
			updates["completed_at"] = now
			updates["wait_time_actual"] = int(now.Sub(item.QueuedAt).Minutes())
			completed = true
		}
		if extra != nil {
			extra(updates)
		}

		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", itemID).
			Updates(updates).Error; err != nil {
			return err
		}

		oldStatus := item.Status
		if err := writeStatusHistory(tx, itemID, &oldStatus, newStatus, reason, actorID); err != nil {
			return err
		}

		// Терминальный статус освобождает место и уплотняет очередь
		if models.IsTerminalQueueItemStatus(newStatus) {
			if _, err := lockQueue(tx, item.QueueID); err != nil {
				return err
			}
			items, err := liveItems(tx, item.QueueID)
			if err != nil {
				return err
			}
			if err := shiftAfterRemoval(tx, item.QueueID, item.SequenceNumber, items); err != nil {
				return err
			}
			if err := tx.Model(&models.OrderQueue{}).
				Where("id = ?", item.QueueID).
				Update("current_size", gorm.Expr("current_size - 1")).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if completed {
		s.bumpQueueMetric(queueID, now, "items_completed")
	} else if newStatus == models.QueueItemStatusCancelled {
		s.bumpQueueMetric(queueID, now, "items_cancelled")
	}

	event := "item_updated"
	switch newStatus {
	case models.QueueItemStatusOnHold:
		event = "item_held"
	case models.QueueItemStatusQueued:
		event = "item_released"
	}
	s.publish(event, queueID, itemID, map[string]interface{}{
		"status": newStatus,
		"reason": reason,
	})
	return nil
}

// BatchSetStatus меняет статус пакету элементов. Возвращает исход по каждому:
// ошибка одного элемента не валит остальные.
func (s *QueueService) BatchSetStatus(itemIDs []string, newStatus, reason, actorID string) ([]BatchStatusResult, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: пустой пакет", ErrInvalidConditions)
	}
	if len(itemIDs) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: пакет из %d превышает лимит %d", ErrInvalidConditions, len(itemIDs), s.cfg.MaxBatchSize)
	}

	results := make([]BatchStatusResult, 0, len(itemIDs))
	queueIDs := map[string]bool{}
	for _, id := range itemIDs {
		var item models.QueueItem
		if err := s.db.Select("queue_id").First(&item, "id = ?", id).Error; err == nil {
			queueIDs[item.QueueID] = true
		}
		if err := s.SetStatus(id, newStatus, reason, actorID); err != nil {
			results = append(results, BatchStatusResult{QueueItemID: id, Success: false, Error: err.Error()})
		} else {
			results = append(results, BatchStatusResult{QueueItemID: id, Success: true})
		}
	}

	for queueID := range queueIDs {
		s.publish("batch_status_update", queueID, "", map[string]interface{}{
			"status": newStatus,
			"count":  len(itemIDs),
		})
	}
	return results, nil
}

type queueSnapshot struct {
	Queue models.OrderQueue  `json:"queue"`
	Items []models.QueueItem `json:"items"`
}

// GetQueueSnapshot возвращает очередь с живыми элементами по порядку.
// Снимок кэшируется в Redis до ближайшей мутации очереди.
func (s *QueueService) GetQueueSnapshot(queueID string) (*models.OrderQueue, []models.QueueItem, error) {
	cacheKey := "queue:snapshot:" + queueID
	if s.redis != nil {
		var cached queueSnapshot
		if err := s.redis.GetJSON(cacheKey, &cached); err == nil {
			return &cached.Queue, cached.Items, nil
		}
	}

	var queue models.OrderQueue
	if err := s.db.First(&queue, "id = ?", queueID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("%w: очередь %s", ErrNotFound, queueID)
		}
		return nil, nil, err
	}
	items, err := liveItems(s.db, queueID)
	if err != nil {
		return nil, nil, err
	}

	if s.redis != nil {
		ttl := time.Duration(s.cfg.CacheTTLSeconds) * time.Second
		if err := s.redis.Set(cacheKey, queueSnapshot{Queue: queue, Items: items}, ttl); err != nil {
			log.Printf("⚠️ Кэширование снимка очереди %s не удалось: %v", queueID, err)
		}
	}
	return &queue, items, nil
}

// bumpQueueMetric обновляет почасовую строку метрик очереди
func (s *QueueService) bumpQueueMetric(queueID string, now time.Time, column string) {
	date := now.Truncate(24 * time.Hour)
	metric := models.QueueMetric{
		QueueID: queueID,
		Date:    date,
		Hour:    now.Hour(),
	}
	switch column {
	case "items_admitted":
		metric.ItemsAdmitted = 1
	case "items_completed":
		metric.ItemsCompleted = 1
	case "items_cancelled":
		metric.ItemsCancelled = 1
	case "rebalances_run":
		metric.RebalancesRun = 1
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "queue_id"}, {Name: "date"}, {Name: "hour"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column: gorm.Expr("queue_metrics."+column+" + 1"),
		}),
	}).Create(&metric).Error
	if err != nil {
		log.Printf("⚠️ Метрика очереди %s не обновлена: %v", queueID, err)
	}
}
