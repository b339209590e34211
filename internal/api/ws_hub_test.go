package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHubBroadcastDoesNotBlockWhenBufferFull(t *testing.T) {
	h := newHub("test")
	payload := []byte(`{"event":"item_added"}`)

	// Без читателя Run буфер заполняется, издатель не должен зависнуть
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.BroadcastMessage(payload)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("рассылка заблокировалась на переполненном буфере")
	}
	assert.Zero(t, h.GetClientsCount())
}
