package services

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aurorapos/server/internal/config"
	"aurorapos/server/internal/models"
	"aurorapos/server/internal/utils"
)

// CustomScoreFunc считает значение для правил score_type=custom.
// Хуки регистрируются при старте процесса.
type CustomScoreFunc func(order *models.Order, item *models.QueueItem) float64

// ScoreBreakdown представляет результат подсчета приоритета до записи в базу
type ScoreBreakdown struct {
	Total      float64            `json:"total"`
	Base       float64            `json:"base"`
	Boost      float64            `json:"boost"`
	Components map[string]float64 `json:"components"`
	Tier       string             `json:"tier"`
}

// PriorityScoreService считает приоритет элементов очереди по настроенному
// профилю: кривые, веса, пороги, агрегация, бусты. Чистый расчет детерминирован:
// одинаковые входы дают одинаковый результат.
type PriorityScoreService struct {
	db           *gorm.DB
	cfg          *config.Config
	redis        *utils.RedisClient
	customScores map[string]CustomScoreFunc
}

// NewPriorityScoreService создает сервис приоритетов
func NewPriorityScoreService(db *gorm.DB, cfg *config.Config) *PriorityScoreService {
	return &PriorityScoreService{
		db:           db,
		cfg:          cfg,
		customScores: make(map[string]CustomScoreFunc),
	}
}

// SetRedisClient подключает кэш рассчитанных приоритетов
func (s *PriorityScoreService) SetRedisClient(redis *utils.RedisClient) {
	s.redis = redis
}

// RegisterCustomScore регистрирует хук для custom правил.
// Ключ сверяется с parameters["handler"] правила.
func (s *PriorityScoreService) RegisterCustomScore(name string, fn CustomScoreFunc) {
	s.customScores[name] = fn
	log.Printf("✅ Зарегистрирован обработчик приоритета: %s", name)
}

// ApplyScoreCurve применяет декларативную кривую к базовому значению
func ApplyScoreCurve(sc *models.ScoreConfig, value float64) float64 {
	switch sc.Type {
	case models.ScoreCurveLinear:
		return sc.BaseScore + value*sc.Multiplier

	case models.ScoreCurveExponential:
		exponent := sc.Exponent
		if exponent == 0 {
			exponent = 2
		}
		return sc.BaseScore + sc.Multiplier*math.Pow(value, exponent)

	case models.ScoreCurveLogarithmic:
		if value <= 0 {
			return sc.BaseScore
		}
		return sc.BaseScore + sc.Multiplier*math.Log(value+1)

	case models.ScoreCurveStep:
		// Первая ступень, чей порог >= значения
		for _, step := range sc.Steps {
			if step[0] >= value {
				return step[1]
			}
		}
		return sc.DefaultScore

	default:
		return sc.DefaultScore
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// extractBaseValue извлекает базовое значение фактора из заказа и элемента очереди
func (s *PriorityScoreService) extractBaseValue(rule *models.PriorityRule, order *models.Order, item *models.QueueItem, now time.Time) (float64, error) {
	switch rule.ScoreType {
	case models.ScoreTypeWaitTime:
		return now.Sub(item.QueuedAt).Minutes(), nil

	case models.ScoreTypeOrderValue:
		value, _ := order.TotalAmount.Float64()
		return value, nil

	case models.ScoreTypeVIP:
		if order.Customer != nil && order.Customer.IsVIP {
			return 1.0, nil
		}
		return 0.0, nil

	case models.ScoreTypeDeliveryTime:
		if order.PromisedAt == nil {
			return 0, nil
		}
		minutes := order.PromisedAt.Sub(now).Minutes()
		if minutes < 0 {
			minutes = 0
		}
		return minutes, nil

	case models.ScoreTypePrepComplexity:
		total := 0.0
		for _, line := range order.Items {
			complexity := line.ComplexityScore
			if complexity == 0 {
				complexity = 1
			}
			total += float64(line.Quantity) * complexity
		}
		return total, nil

	case models.ScoreTypeCustomerLoyalty:
		if order.Customer == nil {
			return 0, nil
		}
		return float64(order.Customer.LoyaltyPoints), nil

	case models.ScoreTypePeakHours:
		params, err := rule.GetParameters()
		if err != nil {
			return 0, err
		}
		if hoursRaw, ok := params["peak_hours"].([]interface{}); ok {
			for _, h := range hoursRaw {
				if hour, ok := h.(float64); ok && int(hour) == now.Hour() {
					return 1.0, nil
				}
			}
		}
		return 0.0, nil

	case models.ScoreTypeGroupSize:
		return float64(order.PartySize), nil

	case models.ScoreTypeSpecialNeeds:
		params, err := rule.GetParameters()
		if err != nil {
			return 0, err
		}
		hits := 0
		instructions := strings.ToLower(order.SpecialInstructions)
		if keywordsRaw, ok := params["keywords"].([]interface{}); ok {
			for _, k := range keywordsRaw {
				if keyword, ok := k.(string); ok && strings.Contains(instructions, strings.ToLower(keyword)) {
					hits++
				}
			}
		}
		return float64(hits), nil

	case models.ScoreTypeCustom:
		params, err := rule.GetParameters()
		if err != nil {
			return 0, err
		}
		if handler, ok := params["handler"].(string); ok {
			if fn, exists := s.customScores[handler]; exists {
				return fn(order, item), nil
			}
		}
		if base, ok := params["base_value"].(float64); ok {
			return base, nil
		}
		return 0, nil

	default:
		return 0, fmt.Errorf("%w: неизвестный score_type %q", ErrRuleEval, rule.ScoreType)
	}
}

// ComputeBreakdown считает разбивку приоритета по профилю. Чистая функция
// относительно переданных данных: базу не трогает.
func (s *PriorityScoreService) ComputeBreakdown(profile *models.PriorityProfile, qpc *models.QueuePriorityConfig, order *models.Order, item *models.QueueItem, now time.Time) (*ScoreBreakdown, error) {
	components := make(map[string]float64)
	var weighted []float64
	totalWeight := 0.0

	for i := range profile.Rules {
		binding := &profile.Rules[i]
		rule := binding.Rule
		if rule == nil || !rule.IsActive {
			continue
		}

		value, err := s.extractBaseValue(rule, order, item, now)
		if err != nil {
			if binding.IsRequired {
				return nil, fmt.Errorf("%w: обязательное правило %s: %v", ErrRuleEval, rule.Name, err)
			}
			// Необязательное правило тихо падает в запасной балл
			components[rule.Name] = binding.FallbackScore
			weighted = append(weighted, binding.FallbackScore)
			totalWeight += binding.EffectiveWeight()
			continue
		}

		scoreConfig, err := rule.GetScoreConfig()
		if err != nil {
			if binding.IsRequired {
				return nil, fmt.Errorf("%w: обязательное правило %s: %v", ErrRuleEval, rule.Name, err)
			}
			components[rule.Name] = binding.FallbackScore
			weighted = append(weighted, binding.FallbackScore)
			totalWeight += binding.EffectiveWeight()
			continue
		}

		score := ApplyScoreCurve(scoreConfig, value)
		score = clamp(score, rule.MinScore, rule.MaxScore)

		// Пороги на привязке заменяют балл запасным при выходе за границы
		if binding.MinThreshold != nil && score < *binding.MinThreshold {
			score = binding.FallbackScore
		}
		if binding.MaxThreshold != nil && score > *binding.MaxThreshold {
			score = binding.FallbackScore
		}

		weight := binding.EffectiveWeight()
		weightedScore := score * weight
		components[rule.Name] = weightedScore
		weighted = append(weighted, weightedScore)
		totalWeight += weight
	}

	base := aggregate(profile.AggregationMethod, weighted)
	if profile.TotalWeightNormalization && totalWeight > 0 && profile.AggregationMethod == models.AggregationWeightedSum {
		base /= totalWeight
	}

	// Наложение бустов из конфигурации очереди
	boost := 0.0
	if qpc != nil {
		if order.Customer != nil && order.Customer.IsVIP {
			boost += qpc.BoostVIP
		}
		if order.PromisedAt != nil && now.After(*order.PromisedAt) {
			boost += qpc.BoostDelayed
		}
		if order.PartySize > 4 {
			boost += qpc.BoostLargeParty
		}
	}

	total := base + boost
	if qpc != nil && qpc.PeakMultiplier > 0 && qpc.PeakMultiplier != 1 {
		if hours, err := qpc.GetPeakHours(); err == nil {
			for _, h := range hours {
				if h == now.Hour() {
					total *= qpc.PeakMultiplier
					break
				}
			}
		}
	}

	total = clamp(total, profile.MinTotalScore, profile.MaxTotalScore)

	return &ScoreBreakdown{
		Total:      total,
		Base:       base,
		Boost:      boost,
		Components: components,
		Tier:       scoreTier(total),
	}, nil
}

func aggregate(method string, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	switch method {
	case models.AggregationMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case models.AggregationMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case models.AggregationAverage:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case models.AggregationMultiply:
		product := 1.0
		for _, v := range values {
			product *= v
		}
		return product
	default: // weighted_sum
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum
	}
}

func scoreTier(total float64) string {
	switch {
	case total >= 80:
		return "high"
	case total >= 50:
		return "medium"
	default:
		return "low"
	}
}

// loadQueueConfig загружает конфигурацию приоритетов очереди с профилем и правилами
func (s *PriorityScoreService) loadQueueConfig(queueID string) (*models.QueuePriorityConfig, error) {
	var qpc models.QueuePriorityConfig
	err := s.db.Preload("Profile.Rules.Rule").
		Where("queue_id = ? AND is_active = ?", queueID, true).
		First(&qpc).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: конфигурация приоритетов очереди %s", ErrNotFound, queueID)
		}
		return nil, err
	}
	return &qpc, nil
}

// ComputeScore считает и сохраняет приоритет элемента очереди.
// Строка order_priority_scores уникальна по queue_item_id и обновляется на месте.
func (s *PriorityScoreService) ComputeScore(queueItemID string, profileOverride string) (*models.OrderPriorityScore, error) {
	var item models.QueueItem
	if err := s.db.First(&item, "id = ?", queueItemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: элемент очереди %s", ErrNotFound, queueItemID)
		}
		return nil, err
	}

	var order models.Order
	if err := s.db.Preload("Customer").Preload("Items").
		First(&order, "id = ?", item.OrderID).Error; err != nil {
		return nil, fmt.Errorf("ошибка загрузки заказа %s: %w", item.OrderID, err)
	}

	qpc, err := s.loadQueueConfig(item.QueueID)
	if err != nil {
		return nil, err
	}

	profile := qpc.Profile
	if profileOverride != "" {
		var override models.PriorityProfile
		if err := s.db.Preload("Rules.Rule").
			First(&override, "id = ? AND is_active = ?", profileOverride, true).Error; err != nil {
			return nil, fmt.Errorf("%w: профиль %s", ErrNotFound, profileOverride)
		}
		profile = &override
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: у очереди %s нет профиля приоритетов", ErrNotFound, item.QueueID)
	}

	now := time.Now().UTC()
	breakdown, err := s.ComputeBreakdown(profile, qpc, &order, &item, now)
	if err != nil {
		return nil, err
	}

	score := models.OrderPriorityScore{
		QueueItemID:  item.ID,
		OrderID:      item.OrderID,
		QueueID:      item.QueueID,
		TotalScore:   breakdown.Total,
		BaseScore:    breakdown.Base,
		BoostScore:   breakdown.Boost,
		Tier:         breakdown.Tier,
		CalculatedAt: now,
	}
	if err := score.SetComponents(breakdown.Components); err != nil {
		return nil, err
	}

	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "queue_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_score", "base_score", "boost_score", "components", "tier", "calculated_at", "updated_at",
		}),
	}).Create(&score).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения приоритета: %w", err)
	}

	if s.redis != nil {
		cacheKey := fmt.Sprintf("priority:score:%s", item.ID)
		ttl := time.Duration(s.cfg.CacheTTLSeconds) * time.Second
		if err := s.redis.Set(cacheKey, score, ttl); err != nil {
			log.Printf("⚠️ Не удалось закэшировать приоритет %s: %v", item.ID, err)
		}
	}

	return &score, nil
}

// ComputeBulk пересчитывает приоритеты живых элементов очереди.
// orderIDs пустой = все живые элементы. Ресеквенс делает вызывающая сторона.
func (s *PriorityScoreService) ComputeBulk(queueID string, orderIDs []string) ([]models.OrderPriorityScore, error) {
	query := s.db.Where("queue_id = ? AND status NOT IN ?", queueID,
		[]string{models.QueueItemStatusCompleted, models.QueueItemStatusCancelled})
	if len(orderIDs) > 0 {
		if len(orderIDs) > s.cfg.MaxBatchSize {
			return nil, fmt.Errorf("%w: пакет из %d превышает лимит %d", ErrInvalidConditions, len(orderIDs), s.cfg.MaxBatchSize)
		}
		query = query.Where("order_id IN ?", orderIDs)
	}

	var items []models.QueueItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}

	scores := make([]models.OrderPriorityScore, 0, len(items))
	for _, item := range items {
		score, err := s.ComputeScore(item.ID, "")
		if err != nil {
			// Ошибка одного элемента не валит пакет
			log.Printf("⚠️ Приоритет элемента %s не посчитан: %v", item.ID, err)
			continue
		}
		scores = append(scores, *score)
	}

	log.Printf("📊 Очередь %s: пересчитано %d приоритетов", queueID, len(scores))
	return scores, nil
}

// ApplyBoost навешивает временный буст на элемент очереди
func (s *PriorityScoreService) ApplyBoost(queueItemID string, amount float64, reason string, duration time.Duration) (*models.OrderPriorityScore, error) {
	if duration <= 0 {
		duration = time.Duration(s.cfg.BoostDurationSeconds) * time.Second
	}
	expiresAt := time.Now().UTC().Add(duration)

	var score models.OrderPriorityScore
	if err := s.db.First(&score, "queue_item_id = ?", queueItemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: приоритет элемента %s еще не рассчитан", ErrNotFound, queueItemID)
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"boost_score":      score.BoostScore + amount,
		"total_score":      score.TotalScore + amount,
		"is_boosted":       true,
		"boost_reason":     reason,
		"boost_expires_at": expiresAt,
	}
	if err := s.db.Model(&score).Updates(updates).Error; err != nil {
		return nil, err
	}

	if s.redis != nil {
		s.redis.Delete(fmt.Sprintf("priority:score:%s", queueItemID))
	}

	log.Printf("🚀 Буст +%.1f на элемент %s до %s (%s)", amount, queueItemID, expiresAt.Format(time.RFC3339), reason)
	return &score, nil
}
