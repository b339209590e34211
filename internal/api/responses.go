package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/services"
)

// respondError переводит ошибку ядра в HTTP ответ с машинным кодом.
// Нехватка остатков дополнительно несет список дефицитных позиций.
func respondError(c *gin.Context, err error) {
	code := services.ErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "INSUFFICIENT_INVENTORY", "QUEUE_FULL", "DUPLICATE_ORDER", "ALREADY_SYNCED":
		status = http.StatusConflict
	case "INVALID_TRANSITION", "INVALID_CONDITIONS", "RULE_EVAL_ERROR":
		status = http.StatusUnprocessableEntity
	case "PERMISSION_DENIED":
		status = http.StatusForbidden
	case "TIMEOUT":
		status = http.StatusGatewayTimeout
	}

	body := gin.H{"error": code, "details": err.Error()}

	var shortageErr *services.InsufficientInventoryError
	if errors.As(err, &shortageErr) {
		body["shortages"] = shortageErr.Shortages
	}

	c.JSON(status, body)
}
