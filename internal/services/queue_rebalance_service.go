package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
)

// RebalanceResult представляет итог ребаланса очереди
type RebalanceResult struct {
	QueueID           string  `json:"queue_id"`
	ItemsRebalanced   int     `json:"items_rebalanced"`
	FairnessBefore    float64 `json:"fairness_before"`
	FairnessAfter     float64 `json:"fairness_after"`
	MaxPositionChange int     `json:"max_position_change"`
	ExecutionMs       int64   `json:"execution_ms"`
	DryRun            bool    `json:"dry_run"`
	Skipped           bool    `json:"skipped"`
}

// QueueRebalanceService выравнивает очереди по справедливости: пересчитывает
// приоритеты, меряет индекс справедливости и делает ограниченные перестановки.
// Здесь же живут тела фоновых воркеров бустов и устаревших приоритетов.
type QueueRebalanceService struct {
	db     *gorm.DB
	cfg    *config.Config
	queues *QueueService
	scorer *PriorityScoreService
}

// NewQueueRebalanceService создает сервис ребаланса
func NewQueueRebalanceService(db *gorm.DB, cfg *config.Config, queues *QueueService, scorer *PriorityScoreService) *QueueRebalanceService {
	return &QueueRebalanceService{db: db, cfg: cfg, queues: queues, scorer: scorer}
}

// GiniCoefficient считает коэффициент Джини распределения баллов.
// 0 = все равны, стремится к 1 при максимальном неравенстве.
func GiniCoefficient(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	weighted := 0.0
	for i, v := range sorted {
		if v < 0 {
			v = 0
		}
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}

	return (2*weighted)/(float64(n)*sum) - float64(n+1)/float64(n)
}

// FairnessIndex возвращает 1 - Джини: 1 идеально справедливо, 0 максимально нет
func FairnessIndex(values []float64) float64 {
	return 1 - GiniCoefficient(values)
}

// queueScores возвращает живые элементы очереди с их баллами
func (s *QueueRebalanceService) queueScores(queueID string) ([]models.QueueItem, map[string]float64, error) {
	items, err := liveItems(s.db, queueID)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return items, map[string]float64{}, nil
	}

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}

	var scores []models.OrderPriorityScore
	if err := s.db.Where("queue_item_id IN ?", itemIDs).Find(&scores).Error; err != nil {
		return nil, nil, err
	}

	byItem := make(map[string]float64, len(scores))
	for _, score := range scores {
		byItem[score.QueueItemID] = score.TotalScore
	}
	// Элемент без рассчитанного балла участвует со своим приоритетом
	for _, item := range items {
		if _, ok := byItem[item.ID]; !ok {
			byItem[item.ID] = item.Priority
		}
	}
	return items, byItem, nil
}

func scoreValues(items []models.QueueItem, byItem map[string]float64) []float64 {
	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = byItem[item.ID]
	}
	return values
}

// Rebalance выравнивает очередь: пересчет баллов, проверка порога
// справедливости, ограниченные перестановки не дальше max_position_change.
func (s *QueueRebalanceService) Rebalance(queueID string, force, dryRun bool) (*RebalanceResult, error) {
	started := time.Now()

	result := &RebalanceResult{QueueID: queueID, DryRun: dryRun}

	maxChange := s.cfg.MaxPositionChange
	threshold := s.cfg.RebalanceThreshold
	var qpc models.QueuePriorityConfig
	if err := s.db.Where("queue_id = ? AND is_active = ?", queueID, true).First(&qpc).Error; err == nil {
		if qpc.MaxPositionChange > 0 {
			maxChange = qpc.MaxPositionChange
		}
		if qpc.RebalanceThreshold > 0 {
			threshold = qpc.RebalanceThreshold
		}
		if !qpc.RebalanceEnabled && !force {
			result.Skipped = true
			return result, nil
		}
	}
	result.MaxPositionChange = maxChange

	items, byItem, err := s.queueScores(queueID)
	if err != nil {
		return nil, err
	}
	if len(items) < 2 {
		result.Skipped = true
		return result, nil
	}

	result.FairnessBefore = FairnessIndex(scoreValues(items, byItem))
	if result.FairnessBefore >= threshold && !force {
		result.Skipped = true
		return result, nil
	}

	// Свежие баллы: время ожидания растет, распределение меняется
	if s.scorer != nil && !dryRun {
		if _, err := s.scorer.ComputeBulk(queueID, nil); err != nil {
			log.Printf("⚠️ Пересчет баллов очереди %s перед ребалансом не удался: %v", queueID, err)
		}
		items, byItem, err = s.queueScores(queueID)
		if err != nil {
			return nil, err
		}
	}

	// Желаемый порядок: по баллу, при равенстве раньше пришедший раньше
	desired := make([]models.QueueItem, len(items))
	copy(desired, items)
	sort.SliceStable(desired, func(i, j int) bool {
		si, sj := byItem[desired[i].ID], byItem[desired[j].ID]
		if si != sj {
			return si > sj
		}
		return desired[i].QueuedAt.Before(desired[j].QueuedAt)
	})

	currentPosition := make(map[string]int, len(items))
	for _, item := range items {
		currentPosition[item.ID] = item.SequenceNumber
	}

	moved := 0
	observedMax := 0
	for desiredIndex, item := range desired {
		desiredPos := desiredIndex + 1
		current := currentPosition[item.ID]
		drift := current - desiredPos
		if drift < 0 {
			drift = -drift
		}
		if drift == 0 {
			continue
		}

		// Ограниченный сдвиг: не дальше max_position_change от текущей позиции
		target := desiredPos
		if current-target > maxChange {
			target = current - maxChange
		} else if target-current > maxChange {
			target = current + maxChange
		}
		if target == current {
			continue
		}

		if !dryRun {
			if err := s.queues.Move(item.ID, target, "ребаланс по справедливости", "system"); err != nil {
				log.Printf("⚠️ Перестановка элемента %s при ребалансе не удалась: %v", item.ID, err)
				continue
			}
			// Move сдвигает соседей, перечитываем позиции
			refreshed, _, rErr := s.queueScores(queueID)
			if rErr == nil {
				for _, r := range refreshed {
					currentPosition[r.ID] = r.SequenceNumber
				}
			}
		}

		moved++
		change := current - target
		if change < 0 {
			change = -change
		}
		if change > observedMax {
			observedMax = change
		}
	}

	items, byItem, err = s.queueScores(queueID)
	if err != nil {
		return nil, err
	}
	result.FairnessAfter = FairnessIndex(scoreValues(items, byItem))
	result.ItemsRebalanced = moved
	result.MaxPositionChange = observedMax
	result.ExecutionMs = time.Since(started).Milliseconds()

	if !dryRun && moved > 0 {
		s.queues.bumpQueueMetric(queueID, time.Now().UTC(), "rebalances_run")
	}
	log.Printf("⚖️ Очередь %s: ребаланс %d перестановок, справедливость %.3f -> %.3f (%d мс)",
		queueID, moved, result.FairnessBefore, result.FairnessAfter, result.ExecutionMs)
	return result, nil
}

// RebalanceAll обходит активные очереди. Ошибка одной очереди не
// останавливает остальные.
func (s *QueueRebalanceService) RebalanceAll() {
	var queues []models.OrderQueue
	if err := s.db.Where("status = ?", models.QueueStatusActive).Find(&queues).Error; err != nil {
		log.Printf("❌ Ребаланс: ошибка списка очередей: %v", err)
		return
	}
	for _, queue := range queues {
		if _, err := s.Rebalance(queue.ID, false, false); err != nil {
			log.Printf("❌ Ребаланс очереди %s: %v", queue.ID, err)
		}
	}
}

// ExpireBoosts снимает истекшие бусты: балл возвращается к базе,
// затронутые очереди переупорядочиваются. Тело воркера на каждые 30 секунд.
func (s *QueueRebalanceService) ExpireBoosts() error {
	now := time.Now().UTC()

	var expired []models.OrderPriorityScore
	if err := s.db.Where("is_boosted = ? AND boost_expires_at IS NOT NULL AND boost_expires_at <= ?", true, now).
		Find(&expired).Error; err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	affectedQueues := map[string]bool{}
	for _, score := range expired {
		err := s.db.Model(&models.OrderPriorityScore{}).
			Where("id = ?", score.ID).
			Updates(map[string]interface{}{
				"total_score":      score.BaseScore,
				"boost_score":      0,
				"is_boosted":       false,
				"boost_reason":     "",
				"boost_expires_at": nil,
			}).Error
		if err != nil {
			log.Printf("⚠️ Сброс буста %s не удался: %v", score.ID, err)
			continue
		}
		affectedQueues[score.QueueID] = true
	}

	for queueID := range affectedQueues {
		if err := s.ResequenceByScore(queueID); err != nil {
			log.Printf("⚠️ Переупорядочивание очереди %s после снятия бустов: %v", queueID, err)
		}
	}

	log.Printf("⏰ Снято истекших бустов: %d, очередей затронуто: %d", len(expired), len(affectedQueues))
	return nil
}

// RecomputeStaleScores пересчитывает баллы живых элементов старше 10 минут.
// Очереди, где балл уехал больше чем на 5, переупорядочиваются.
// Тело воркера на каждые 5 минут.
func (s *QueueRebalanceService) RecomputeStaleScores() error {
	cutoff := time.Now().UTC().Add(-10 * time.Minute)

	var stale []models.OrderPriorityScore
	err := s.db.Joins("JOIN queue_items ON queue_items.id = order_priority_scores.queue_item_id").
		Where("order_priority_scores.calculated_at < ? AND queue_items.status NOT IN ?", cutoff,
			[]string{models.QueueItemStatusCompleted, models.QueueItemStatusCancelled}).
		Find(&stale).Error
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	needResequence := map[string]bool{}
	for _, old := range stale {
		fresh, err := s.scorer.ComputeScore(old.QueueItemID, "")
		if err != nil {
			log.Printf("⚠️ Пересчет устаревшего балла %s: %v", old.QueueItemID, err)
			continue
		}
		diff := fresh.TotalScore - old.TotalScore
		if diff < 0 {
			diff = -diff
		}
		if diff > 5 {
			needResequence[old.QueueID] = true
		}
	}

	for queueID := range needResequence {
		if err := s.ResequenceByScore(queueID); err != nil {
			log.Printf("⚠️ Переупорядочивание очереди %s после пересчета: %v", queueID, err)
		}
	}

	log.Printf("🔄 Пересчитано устаревших баллов: %d, очередей переупорядочено: %d", len(stale), len(needResequence))
	return nil
}

// ResequenceByScore полностью переупорядочивает живые элементы очереди
// по убыванию балла. Одна транзакция: наблюдатели видят до или после.
func (s *QueueRebalanceService) ResequenceByScore(queueID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, queueID); err != nil {
			return err
		}

		items, err := liveItems(tx, queueID)
		if err != nil {
			return err
		}
		if len(items) < 2 {
			return nil
		}

		itemIDs := make([]string, len(items))
		for i, item := range items {
			itemIDs[i] = item.ID
		}
		var scores []models.OrderPriorityScore
		if err := tx.Where("queue_item_id IN ?", itemIDs).Find(&scores).Error; err != nil {
			return err
		}
		byItem := make(map[string]float64, len(scores))
		for _, score := range scores {
			byItem[score.QueueItemID] = score.TotalScore
		}
		for _, item := range items {
			if _, ok := byItem[item.ID]; !ok {
				byItem[item.ID] = item.Priority
			}
		}

		sort.SliceStable(items, func(i, j int) bool {
			si, sj := byItem[items[i].ID], byItem[items[j].ID]
			if si != sj {
				return si > sj
			}
			return items[i].QueuedAt.Before(items[j].QueuedAt)
		})

		// Две фазы: сначала во временные отрицательные позиции,
		// потом в целевые, иначе сдвиг упрется в уникальность
		for i, item := range items {
			if err := tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Update("sequence_number", -(i + 1)).Error; err != nil {
				return err
			}
		}
		for i, item := range items {
			if err := tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Update("sequence_number", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SuggestedSequence возвращает позицию, которую элемент занял бы по текущим баллам
func (s *QueueRebalanceService) SuggestedSequence(queueItemID string) (int, error) {
	var score models.OrderPriorityScore
	if err := s.db.First(&score, "queue_item_id = ?", queueItemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, fmt.Errorf("%w: балл элемента %s", ErrNotFound, queueItemID)
		}
		return 0, err
	}

	items, byItem, err := s.queueScores(score.QueueID)
	if err != nil {
		return 0, err
	}
	position := 1
	for _, item := range items {
		if item.ID == queueItemID {
			continue
		}
		if byItem[item.ID] > score.TotalScore {
			position++
		}
	}
	return position, nil
}
