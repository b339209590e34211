package services

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Коды ошибок ядра, видимые вызывающей стороне.
// Каждая поверхностная ошибка несет машинный код и человеческое сообщение.
var (
	ErrInsufficientInventory = errors.New("INSUFFICIENT_INVENTORY")
	ErrAlreadySynced         = errors.New("ALREADY_SYNCED")
	ErrInvalidTransition     = errors.New("INVALID_TRANSITION")
	ErrQueueFull             = errors.New("QUEUE_FULL")
	ErrDuplicateOrder        = errors.New("DUPLICATE_ORDER")
	ErrRuleEval              = errors.New("RULE_EVAL_ERROR")
	ErrInvalidConditions     = errors.New("INVALID_CONDITIONS")
	ErrNotFound              = errors.New("NOT_FOUND")
	ErrPermissionDenied      = errors.New("PERMISSION_DENIED")
	ErrTimeout               = errors.New("TIMEOUT")
)

// ErrorCode возвращает машинный код ошибки ядра, либо INTERNAL_ERROR
func ErrorCode(err error) string {
	for _, kind := range []error{
		ErrInsufficientInventory, ErrAlreadySynced, ErrInvalidTransition,
		ErrQueueFull, ErrDuplicateOrder, ErrRuleEval, ErrInvalidConditions,
		ErrNotFound, ErrPermissionDenied, ErrTimeout,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "INTERNAL_ERROR"
}

// Shortage описывает нехватку одной позиции склада
type Shortage struct {
	InventoryID int64   `json:"inventory_id"`
	Name        string  `json:"name"`
	Required    float64 `json:"required"`
	Available   float64 `json:"available"`
	Unit        string  `json:"unit"`
}

// InsufficientInventoryError несет структурированный список нехваток
type InsufficientInventoryError struct {
	Shortages []Shortage
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("INSUFFICIENT_INVENTORY: %d позиций не хватает", len(e.Shortages))
}

// Unwrap позволяет errors.Is(err, ErrInsufficientInventory)
func (e *InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// isSerializationFailure проверяет, является ли ошибка конфликтом сериализации
// или дедлоком PostgreSQL (коды 40001 и 40P01). Такие ошибки повторяются один раз.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// isUniqueViolation проверяет нарушение уникального ограничения (код 23505).
// Используется при гонке за sequence_number в очереди.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
