package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderTransitions(t *testing.T) {
	allowed := [][2]string{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusInProgress},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusInProgress},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusInProgress, OrderStatusReady},
		{OrderStatusInProgress, OrderStatusCompleted},
		{OrderStatusInProgress, OrderStatusCancelled},
		{OrderStatusReady, OrderStatusCompleted},
		{OrderStatusReady, OrderStatusCancelled},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransitionOrder(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	forbidden := [][2]string{
		{OrderStatusPending, OrderStatusReady},
		{OrderStatusPending, OrderStatusCompleted},
		{OrderStatusConfirmed, OrderStatusReady},
		{OrderStatusReady, OrderStatusInProgress}, // Назад нельзя
		{OrderStatusCompleted, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusPending},
		{"UNKNOWN", OrderStatusPending},
	}
	for _, pair := range forbidden {
		assert.False(t, CanTransitionOrder(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestQueueItemTransitions(t *testing.T) {
	allowed := [][2]string{
		{QueueItemStatusQueued, QueueItemStatusInPreparation},
		{QueueItemStatusQueued, QueueItemStatusOnHold},
		{QueueItemStatusQueued, QueueItemStatusCancelled},
		{QueueItemStatusInPreparation, QueueItemStatusReady},
		{QueueItemStatusInPreparation, QueueItemStatusOnHold},
		{QueueItemStatusReady, QueueItemStatusCompleted},
		{QueueItemStatusReady, QueueItemStatusOnHold},
		{QueueItemStatusOnHold, QueueItemStatusQueued},
		{QueueItemStatusOnHold, QueueItemStatusInPreparation},
		{QueueItemStatusDelayed, QueueItemStatusQueued},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransitionQueueItem(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	forbidden := [][2]string{
		{QueueItemStatusQueued, QueueItemStatusReady},
		{QueueItemStatusQueued, QueueItemStatusCompleted},
		{QueueItemStatusReady, QueueItemStatusCancelled},
		{QueueItemStatusCompleted, QueueItemStatusQueued},
		{QueueItemStatusCancelled, QueueItemStatusQueued},
		{QueueItemStatusReady, QueueItemStatusQueued},
	}
	for _, pair := range forbidden {
		assert.False(t, CanTransitionQueueItem(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTerminalQueueItemStatuses(t *testing.T) {
	assert.True(t, IsTerminalQueueItemStatus(QueueItemStatusCompleted))
	assert.True(t, IsTerminalQueueItemStatus(QueueItemStatusCancelled))
	assert.False(t, IsTerminalQueueItemStatus(QueueItemStatusQueued))
	assert.False(t, IsTerminalQueueItemStatus(QueueItemStatusOnHold))
}
