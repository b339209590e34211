package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/services"
)

// InventoryController дает HTTP доступ к остаткам склада и списаниям
type InventoryController struct {
	deductor *services.RecipeDeductionService
	flat     *services.InventoryService
}

// NewInventoryController создает контроллер склада
func NewInventoryController(deductor *services.RecipeDeductionService, flat *services.InventoryService) *InventoryController {
	return &InventoryController{deductor: deductor, flat: flat}
}

// ListItems возвращает все позиции склада
func (ic *InventoryController) ListItems(c *gin.Context) {
	items, err := ic.flat.ListItems()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetItem возвращает одну позицию склада
func (ic *InventoryController) GetItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": "id должен быть числом"})
		return
	}

	item, err := ic.flat.GetItem(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ManualAdjust выполняет ручную корректировку остатка
func (ic *InventoryController) ManualAdjust(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": "id должен быть числом"})
		return
	}

	var req struct {
		Change  float64 `json:"change" binding:"required"`
		Reason  string  `json:"reason"`
		ActorID string  `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	entry, err := ic.flat.ManualAdjust(id, req.Change, req.ActorID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListAdjustments возвращает историю корректировок позиции
func (ic *InventoryController) ListAdjustments(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": "id должен быть числом"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	adjustments, err := ic.flat.ListAdjustments(id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjustments": adjustments, "count": len(adjustments)})
}

type deductRequest struct {
	OrderID string                    `json:"order_id" binding:"required"`
	Items   []services.OrderItemInput `json:"items" binding:"required"`
	ActorID string                    `json:"actor_id"`
}

// PreviewImpact считает расход склада по заказу без списания
func (ic *InventoryController) PreviewImpact(c *gin.Context) {
	var req struct {
		Items []services.OrderItemInput `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	required, shortages, withoutRecipes, err := ic.deductor.PreviewImpact(req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requirements":          required,
		"shortages":             shortages,
		"items_without_recipes": withoutRecipes,
		"fulfillable":           len(shortages) == 0,
	})
}

// PartialFulfill списывает явно указанные количества (частичное исполнение)
func (ic *InventoryController) PartialFulfill(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	result, err := ic.deductor.PartialFulfill(req.Items, req.OrderID, req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Reverse возвращает на склад списанное по заказу
func (ic *InventoryController) Reverse(c *gin.Context) {
	var req struct {
		OrderID string `json:"order_id" binding:"required"`
		Reason  string `json:"reason"`
		Force   bool   `json:"force"`
		ActorID string `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	returns, err := ic.deductor.ReverseForOrder(req.OrderID, req.ActorID, req.Reason, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"returns": returns, "count": len(returns)})
}

// MarkSynced помечает списания заказа как выгруженные во внешний учет.
// После этого возврат возможен только с force.
func (ic *InventoryController) MarkSynced(c *gin.Context) {
	orderID := c.Param("order_id")
	if err := ic.flat.MarkSyncedToExternal(orderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "synced": true})
}
