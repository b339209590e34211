package api

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub раздает события очередей подключенным дисплеям одного типа.
// Рассылка идет из одной горутины Run, клиенты добавляются из HTTP обработчиков.
type Hub struct {
	name      string
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.RWMutex
}

func newHub(name string) *Hub {
	return &Hub{
		name:      name,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256), // Буфер сглаживает всплески событий очередей
	}
}

// KitchenHub обслуживает кухонные дисплеи станций (живые очереди)
var KitchenHub = newHub("kitchen")

// DashboardHub обслуживает менеджерские дашборды (метрики, сигналы инвалидации)
var DashboardHub = newHub("dashboard")

// Run рассылает сообщения всем подключенным дисплеям.
// Дисплеи с ошибкой записи отключаются после прохода по списку.
func (h *Hub) Run() {
	for msg := range h.broadcast {
		var dead []*websocket.Conn
		h.mutex.RLock()
		for client := range h.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				dead = append(dead, client)
			}
		}
		h.mutex.RUnlock()
		for _, client := range dead {
			h.RemoveClient(client)
		}
	}
}

// AddClient регистрирует подключившийся дисплей
func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mutex.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mutex.Unlock()
	log.Printf("📱 Дисплей подключен (%s): всего %d", h.name, count)
}

// RemoveClient отключает дисплей и закрывает соединение
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		log.Printf("📱 Дисплей отключен (%s): осталось %d", h.name, len(h.clients))
	}
	h.mutex.Unlock()
}

// BroadcastMessage ставит сообщение в очередь рассылки.
// Переполненный буфер роняет сообщение, а не блокирует издателя.
func (h *Hub) BroadcastMessage(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Printf("⚠️ Буфер рассылки %s переполнен, сообщение пропущено", h.name)
	}
}

// GetClientsCount возвращает число подключенных дисплеев
func (h *Hub) GetClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
