package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunPeriodicStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int64
	done := make(chan struct{})
	go func() {
		RunPeriodic(ctx, 5*time.Millisecond, "test", func() error {
			atomic.AddInt64(&calls, 1)
			return nil
		})
		close(done)
	}()

	// Даем воркеру сработать хотя бы раз
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) > 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("воркер не остановился после отмены контекста")
	}

	// После остановки вызовы не продолжаются
	stopped := atomic.LoadInt64(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt64(&calls))
}

func TestRunPeriodicAfterCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	done := make(chan struct{})
	go func() {
		RunPeriodicAfter(ctx, time.Hour, time.Hour, "test", func() error {
			atomic.AddInt64(&calls, 1)
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("воркер не остановился во время начальной задержки")
	}
	assert.Zero(t, atomic.LoadInt64(&calls))
}
