package services

import (
	"context"
	"log"
	"time"
)

// RunPeriodic вызывает fn с заданным интервалом до отмены контекста.
// Ошибки fn логируются и не останавливают цикл.
func RunPeriodic(ctx context.Context, interval time.Duration, name string, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Воркер %s остановлен", name)
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				log.Printf("⚠️ Воркер %s: %v", name, err)
			}
		}
	}
}

// RunPeriodicAfter ждет начальную задержку, выполняет fn и дальше работает
// как RunPeriodic. Отмена контекста во время задержки тоже останавливает воркер.
func RunPeriodicAfter(ctx context.Context, delay, interval time.Duration, name string, fn func() error) {
	select {
	case <-ctx.Done():
		log.Printf("🛑 Воркер %s остановлен", name)
		return
	case <-time.After(delay):
	}
	if err := fn(); err != nil {
		log.Printf("⚠️ Воркер %s: %v", name, err)
	}
	RunPeriodic(ctx, interval, name, fn)
}
