package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"aurorapos/server/internal/services"
)

// TimeoutMiddleware ограничивает время обработки запроса ядром. Дедлайн
// кладется в контекст запроса; обработчик, не успевший до него, получает 504.
// WebSocket маршруты под этот middleware не ставятся.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		panicked := make(chan interface{}, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case p := <-panicked:
			panic(p)
		case <-ctx.Done():
			c.Abort()
			respondError(c, fmt.Errorf("%w: обработка дольше %s", services.ErrTimeout, timeout))
		}
	}
}
