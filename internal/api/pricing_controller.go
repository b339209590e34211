package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/models"
	"aurorapos/server/internal/services"
)

// PricingController дает HTTP доступ к движку ценовых правил
type PricingController struct {
	pricing *services.PricingRuleService
}

// NewPricingController создает контроллер ценовых правил
func NewPricingController(pricing *services.PricingRuleService) *PricingController {
	return &PricingController{pricing: pricing}
}

// Evaluate применяет скидки к заказу. ?debug=1 добавляет трассу оценки
// каждого правила в ответ.
func (pc *PricingController) Evaluate(c *gin.Context) {
	var req struct {
		OrderID   string `json:"order_id" binding:"required"`
		PromoCode string `json:"promo_code"`
		Source    string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	source := strings.ToLower(req.Source)
	if source == "" {
		source = models.ApplicationSourceManual
	}
	debug := c.Query("debug") == "1" || c.Query("debug") == "true"

	outcome, err := pc.pricing.EvaluateByOrderID(req.OrderID, req.PromoCode, source, debug)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// CreateRule создает ценовое правило
func (pc *PricingController) CreateRule(c *gin.Context) {
	var rule models.PricingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	if err := pc.pricing.CreateRule(&rule, c.Query("actor_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule обновляет ценовое правило
func (pc *PricingController) UpdateRule(c *gin.Context) {
	var updates models.PricingRule
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	rule, err := pc.pricing.UpdateRule(c.Param("id"), &updates, c.Query("actor_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule архивирует ценовое правило
func (pc *PricingController) DeleteRule(c *gin.Context) {
	if err := pc.pricing.DeleteRule(c.Param("id"), c.Query("actor_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GetRule возвращает одно правило
func (pc *PricingController) GetRule(c *gin.Context) {
	rule, err := pc.pricing.GetRule(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ListRules возвращает правила ресторана
func (pc *PricingController) ListRules(c *gin.Context) {
	rules, err := pc.pricing.ListRules(c.Query("restaurant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}
