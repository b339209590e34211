package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/services"
)

// PriorityController дает HTTP доступ к расчету приоритетов и бустам
type PriorityController struct {
	scorer *services.PriorityScoreService
}

// NewPriorityController создает контроллер приоритетов
func NewPriorityController(scorer *services.PriorityScoreService) *PriorityController {
	return &PriorityController{scorer: scorer}
}

// ComputeScore пересчитывает балл одной позиции очереди.
// ?profile= подменяет профиль очереди на время расчета.
func (pc *PriorityController) ComputeScore(c *gin.Context) {
	score, err := pc.scorer.ComputeScore(c.Param("item_id"), c.Query("profile"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

// ComputeBulk пересчитывает баллы пачки заказов очереди
func (pc *PriorityController) ComputeBulk(c *gin.Context) {
	var req struct {
		QueueID  string   `json:"queue_id" binding:"required"`
		OrderIDs []string `json:"order_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	scores, err := pc.scorer.ComputeBulk(req.QueueID, req.OrderIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": scores, "count": len(scores)})
}

// ApplyBoost дает позиции временный прирост балла
func (pc *PriorityController) ApplyBoost(c *gin.Context) {
	var req struct {
		Amount          float64 `json:"amount" binding:"required"`
		Reason          string  `json:"reason"`
		DurationSeconds int     `json:"duration_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	score, err := pc.scorer.ApplyBoost(c.Param("item_id"), req.Amount, req.Reason, duration)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}
