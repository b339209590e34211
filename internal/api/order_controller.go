package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/models"
	"aurorapos/server/internal/services"
)

// OrderController дает HTTP доступ к жизненному циклу заказов
type OrderController struct {
	orders *services.OrderLifecycleService
}

// NewOrderController создает контроллер заказов
func NewOrderController(orders *services.OrderLifecycleService) *OrderController {
	return &OrderController{orders: orders}
}

// CreateOrder создает заказ в статусе PENDING
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	if err := oc.orders.CreateOrder(&order, c.Query("actor_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GetOrder возвращает заказ с позициями
func (oc *OrderController) GetOrder(c *gin.Context) {
	order, err := oc.orders.GetOrder(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Transition переводит заказ в новый статус. На статусе списания применяются
// скидки и списывается склад, отказ любого шага отклоняет переход целиком.
func (oc *OrderController) Transition(c *gin.Context) {
	var req struct {
		Status  string `json:"status" binding:"required"`
		Reason  string `json:"reason"`
		ActorID string `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	order, err := oc.orders.Transition(c.Param("id"), req.Status, req.ActorID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
