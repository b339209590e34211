package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Статусы очередей
const (
	QueueStatusActive      = "ACTIVE"
	QueueStatusPaused      = "PAUSED"
	QueueStatusClosed      = "CLOSED"
	QueueStatusMaintenance = "MAINTENANCE"
)

// Статусы элементов очереди
const (
	QueueItemStatusQueued        = "QUEUED"
	QueueItemStatusInPreparation = "IN_PREPARATION"
	QueueItemStatusReady         = "READY"
	QueueItemStatusOnHold        = "ON_HOLD"
	QueueItemStatusCompleted     = "COMPLETED"
	QueueItemStatusCancelled     = "CANCELLED"
	QueueItemStatusDelayed       = "DELAYED"
)

// queueItemTransitions задает допустимые переходы статусов элементов очереди.
// COMPLETED и CANCELLED терминальны.
var queueItemTransitions = map[string][]string{
	QueueItemStatusQueued:        {QueueItemStatusInPreparation, QueueItemStatusOnHold, QueueItemStatusCancelled},
	QueueItemStatusInPreparation: {QueueItemStatusReady, QueueItemStatusOnHold, QueueItemStatusCancelled},
	QueueItemStatusReady:         {QueueItemStatusCompleted, QueueItemStatusOnHold},
	QueueItemStatusOnHold:        {QueueItemStatusQueued, QueueItemStatusInPreparation, QueueItemStatusCancelled},
	QueueItemStatusDelayed:       {QueueItemStatusQueued, QueueItemStatusCancelled},
	QueueItemStatusCompleted:     {},
	QueueItemStatusCancelled:     {},
}

// CanTransitionQueueItem проверяет допустимость перехода статуса элемента очереди
func CanTransitionQueueItem(from, to string) bool {
	allowed, ok := queueItemTransitions[from]
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

// IsTerminalQueueItemStatus проверяет, является ли статус терминальным
func IsTerminalQueueItemStatus(status string) bool {
	return status == QueueItemStatusCompleted || status == QueueItemStatusCancelled
}

// OrderQueue представляет очередь станции кухни
type OrderQueue struct {
	ID                  string         `json:"id" gorm:"type:uuid;primaryKey"`
	RestaurantID        string         `json:"restaurant_id" gorm:"type:varchar(64);not null;index"`
	Name                string         `json:"name" gorm:"type:varchar(255);not null"`
	QueueType           string         `json:"queue_type" gorm:"type:varchar(30);not null;default:'kitchen'"` // kitchen, bar, delivery
	Status              string         `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	Capacity            int            `json:"capacity" gorm:"not null;default:50"`
	CurrentSize         int            `json:"current_size" gorm:"not null;default:0"` // Число живых элементов
	DefaultPrepMinutes  int            `json:"default_prep_minutes" gorm:"default:15"`
	DefaultPriority     float64        `json:"default_priority" gorm:"type:decimal(10,2);default:50"`
	WarningThresholdMin int            `json:"warning_threshold_min" gorm:"default:20"` // SLA предупреждения
	CriticalThresholdMin int           `json:"critical_threshold_min" gorm:"default:40"` // SLA критический
	CreatedAt           time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt           gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName указывает имя таблицы
func (OrderQueue) TableName() string {
	return "order_queues"
}

// BeforeCreate генерирует UUID
func (q *OrderQueue) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// QueueItem представляет заказ в очереди с позицией и статусом.
// Уникальность (queue_id, sequence_number) контролирует позиции.
type QueueItem struct {
	ID               string     `json:"id" gorm:"type:uuid;primaryKey"`
	QueueID          string     `json:"queue_id" gorm:"type:uuid;not null;uniqueIndex:idx_queue_sequence;index"`
	Queue            *OrderQueue `gorm:"foreignKey:QueueID" json:"queue,omitempty"`
	OrderID          string     `json:"order_id" gorm:"type:uuid;not null;index"`
	SequenceNumber   int        `json:"sequence_number" gorm:"not null;uniqueIndex:idx_queue_sequence"`
	Priority         float64    `json:"priority" gorm:"type:decimal(10,2);not null;default:0"`
	IsExpedited      bool       `json:"is_expedited" gorm:"default:false"`
	Status           string     `json:"status" gorm:"type:varchar(20);not null;default:'QUEUED';index"`
	QueuedAt         time.Time  `json:"queued_at" gorm:"autoCreateTime;index"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ReadyAt          *time.Time `json:"ready_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	HoldUntil        *time.Time `json:"hold_until,omitempty"`
	HoldReason       string     `json:"hold_reason" gorm:"type:text"`
	EstimatedReadyAt *time.Time `json:"estimated_ready_at,omitempty"`
	AssignedStaffID  string     `json:"assigned_staff_id" gorm:"type:varchar(64)"`
	AssignedStation  string     `json:"assigned_station" gorm:"type:varchar(64)"`
	PrepTimeActual   *int       `json:"prep_time_actual,omitempty"` // Минуты от started_at до ready_at
	WaitTimeActual   *int       `json:"wait_time_actual,omitempty"` // Минуты от queued_at до completed_at
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (QueueItem) TableName() string {
	return "queue_items"
}

// BeforeCreate генерирует UUID
func (qi *QueueItem) BeforeCreate(tx *gorm.DB) error {
	if qi.ID == "" {
		qi.ID = uuid.New().String()
	}
	return nil
}

// IsLive проверяет, что элемент еще в работе
func (qi *QueueItem) IsLive() bool {
	return !IsTerminalQueueItemStatus(qi.Status)
}

// QueueItemStatusHistory представляет журнал смен статусов элемента
type QueueItemStatusHistory struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	QueueItemID string    `json:"queue_item_id" gorm:"type:uuid;not null;index"`
	OldStatus   *string   `json:"old_status,omitempty" gorm:"type:varchar(20)"` // NULL при постановке в очередь
	NewStatus   string    `json:"new_status" gorm:"type:varchar(20);not null"`
	Reason      string    `json:"reason" gorm:"type:text"`
	ChangedBy   string    `json:"changed_by" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName указывает имя таблицы
func (QueueItemStatusHistory) TableName() string {
	return "queue_item_status_history"
}

// BeforeCreate генерирует UUID
func (h *QueueItemStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return nil
}

// QueueSequenceRule представляет правило корректировки при постановке в очередь.
// Условия в том же JSONB формате, что и у ценовых правил (секции items/customer/order).
type QueueSequenceRule struct {
	ID                 string    `json:"id" gorm:"type:uuid;primaryKey"`
	QueueID            string    `json:"queue_id" gorm:"type:uuid;not null;index"`
	Name               string    `json:"name" gorm:"type:varchar(255);not null"`
	Priority           int       `json:"priority" gorm:"not null;default:0"` // Больше = применяется раньше
	Conditions         string    `json:"conditions" gorm:"type:jsonb;default:'{}'"`
	PriorityAdjustment float64   `json:"priority_adjustment" gorm:"type:decimal(10,2);default:0"`
	SequenceAdjustment int       `json:"sequence_adjustment" gorm:"default:0"` // Отрицательное = ближе к началу
	AutoExpedite       bool      `json:"auto_expedite" gorm:"default:false"`
	AssignStation      string    `json:"assign_station" gorm:"type:varchar(64)"`
	IsActive           bool      `json:"is_active" gorm:"default:true;index"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (QueueSequenceRule) TableName() string {
	return "queue_sequence_rules"
}

// BeforeCreate генерирует UUID
func (r *QueueSequenceRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Conditions == "" {
		r.Conditions = "{}"
	}
	return nil
}

// QueueMetric представляет почасовую статистику очереди
type QueueMetric struct {
	ID               string    `json:"id" gorm:"type:uuid;primaryKey"`
	QueueID          string    `json:"queue_id" gorm:"type:uuid;not null;uniqueIndex:idx_queue_metric_hour;index"`
	Date             time.Time `json:"date" gorm:"type:date;not null;uniqueIndex:idx_queue_metric_hour"`
	Hour             int       `json:"hour" gorm:"not null;uniqueIndex:idx_queue_metric_hour"` // 0-23
	ItemsAdmitted    int       `json:"items_admitted" gorm:"default:0"`
	ItemsCompleted   int       `json:"items_completed" gorm:"default:0"`
	ItemsCancelled   int       `json:"items_cancelled" gorm:"default:0"`
	AvgWaitMinutes   float64   `json:"avg_wait_minutes" gorm:"type:decimal(10,2);default:0"`
	AvgPrepMinutes   float64   `json:"avg_prep_minutes" gorm:"type:decimal(10,2);default:0"`
	PeakSize         int       `json:"peak_size" gorm:"default:0"`
	RebalancesRun    int       `json:"rebalances_run" gorm:"default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (QueueMetric) TableName() string {
	return "queue_metrics"
}

// BeforeCreate генерирует UUID
func (m *QueueMetric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
