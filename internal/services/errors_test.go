package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrInsufficientInventory, "INSUFFICIENT_INVENTORY"},
		{ErrQueueFull, "QUEUE_FULL"},
		{ErrDuplicateOrder, "DUPLICATE_ORDER"},
		{ErrInvalidTransition, "INVALID_TRANSITION"},
		{ErrNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: очередь station-1 заполнена", ErrQueueFull), "QUEUE_FULL"},
		{fmt.Errorf("обертка: %w", fmt.Errorf("%w: деталь", ErrAlreadySynced)), "ALREADY_SYNCED"},
		{errors.New("что-то пошло не так"), "INTERNAL_ERROR"},
		{nil, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.code, ErrorCode(tc.err))
	}
}

func TestInsufficientInventoryErrorUnwrap(t *testing.T) {
	err := &InsufficientInventoryError{Shortages: []Shortage{
		{InventoryID: 1, Name: "моцарелла", Required: 300, Available: 120, Unit: "g"},
	}}

	assert.True(t, errors.Is(err, ErrInsufficientInventory))
	assert.Equal(t, "INSUFFICIENT_INVENTORY", ErrorCode(err))

	var shortageErr *InsufficientInventoryError
	wrapped := fmt.Errorf("списание не прошло: %w", err)
	assert.True(t, errors.As(wrapped, &shortageErr))
	assert.Len(t, shortageErr.Shortages, 1)
}
