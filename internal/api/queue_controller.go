package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/services"
)

// QueueController дает HTTP доступ к очередям станций: постановка,
// перемещение, переводы, статусы и ребаланс
type QueueController struct {
	queues     *services.QueueService
	rebalancer *services.QueueRebalanceService
}

// NewQueueController создает контроллер очередей
func NewQueueController(queues *services.QueueService, rebalancer *services.QueueRebalanceService) *QueueController {
	return &QueueController{queues: queues, rebalancer: rebalancer}
}

// Admit ставит заказ в очередь
func (qc *QueueController) Admit(c *gin.Context) {
	var req services.AdmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}
	req.QueueID = c.Param("queue_id")

	item, err := qc.queues.Admit(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// GetSnapshot возвращает очередь с живыми позициями по порядку
func (qc *QueueController) GetSnapshot(c *gin.Context) {
	queue, items, err := qc.queues.GetQueueSnapshot(c.Param("queue_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue, "items": items, "count": len(items)})
}

// Move переставляет позицию на новое место в очереди
func (qc *QueueController) Move(c *gin.Context) {
	var req struct {
		NewPosition int    `json:"new_position" binding:"required"`
		Reason      string `json:"reason"`
		ActorID     string `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	if err := qc.queues.Move(c.Param("item_id"), req.NewPosition, req.Reason, req.ActorID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": true, "new_position": req.NewPosition})
}

// Transfer переводит позицию в другую очередь
func (qc *QueueController) Transfer(c *gin.Context) {
	var req struct {
		TargetQueueID    string `json:"target_queue_id" binding:"required"`
		MaintainPriority bool   `json:"maintain_priority"`
		Reason           string `json:"reason"`
		ActorID          string `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	item, err := qc.queues.Transfer(c.Param("item_id"), req.TargetQueueID, req.MaintainPriority, req.Reason, req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Expedite ускоряет позицию: буст приоритета и опционально перенос в начало
func (qc *QueueController) Expedite(c *gin.Context) {
	var req struct {
		PriorityBoost float64 `json:"priority_boost"`
		MoveToFront   bool    `json:"move_to_front"`
		Reason        string  `json:"reason"`
		ActorID       string  `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}
	if req.PriorityBoost <= 0 {
		req.PriorityBoost = 20
	}

	if err := qc.queues.Expedite(c.Param("item_id"), req.PriorityBoost, req.MoveToFront, req.Reason, req.ActorID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expedited": true})
}

// Hold приостанавливает позицию до указанного времени
func (qc *QueueController) Hold(c *gin.Context) {
	var req struct {
		HoldUntil time.Time `json:"hold_until" binding:"required"`
		Reason    string    `json:"reason"`
		ActorID   string    `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	if err := qc.queues.Hold(c.Param("item_id"), req.HoldUntil, req.Reason, req.ActorID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"held": true, "hold_until": req.HoldUntil})
}

// ReleaseHold возвращает позицию из паузы в очередь
func (qc *QueueController) ReleaseHold(c *gin.Context) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := qc.queues.ReleaseHold(c.Param("item_id"), req.ActorID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

// SetStatus переводит позицию в новый статус
func (qc *QueueController) SetStatus(c *gin.Context) {
	var req struct {
		Status  string `json:"status" binding:"required"`
		Reason  string `json:"reason"`
		ActorID string `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	if err := qc.queues.SetStatus(c.Param("item_id"), req.Status, req.Reason, req.ActorID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// BatchSetStatus меняет статус пачке позиций, по-позиционные исходы в ответе
func (qc *QueueController) BatchSetStatus(c *gin.Context) {
	var req struct {
		ItemIDs []string `json:"item_ids" binding:"required"`
		Status  string   `json:"status" binding:"required"`
		Reason  string   `json:"reason"`
		ActorID string   `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	results, err := qc.queues.BatchSetStatus(req.ItemIDs, req.Status, req.Reason, req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "succeeded": succeeded, "failed": len(results) - succeeded})
}

// Rebalance пересчитывает приоритеты и перестраивает очередь.
// ?dry_run=1 считает план без применения, ?force=1 игнорирует порог справедливости.
func (qc *QueueController) Rebalance(c *gin.Context) {
	force := c.Query("force") == "1" || c.Query("force") == "true"
	dryRun := c.Query("dry_run") == "1" || c.Query("dry_run") == "true"

	result, err := qc.rebalancer.Rebalance(c.Param("queue_id"), force, dryRun)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SuggestedSequence возвращает позицию, на которой элемент оказался бы
// при пересортировке очереди по баллам
func (qc *QueueController) SuggestedSequence(c *gin.Context) {
	seq, err := qc.rebalancer.SuggestedSequence(c.Param("item_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggested_sequence": seq})
}
