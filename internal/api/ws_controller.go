package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Дисплеи подключаются из локальной сети ресторана
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeKitchenWS подключает кухонный дисплей к потоку событий очередей
func ServeKitchenWS(c *gin.Context) {
	serveWS(c, KitchenHub, "кухонный дисплей")
}

// ServeDashboardWS подключает менеджерский дашборд
func ServeDashboardWS(c *gin.Context) {
	serveWS(c, DashboardHub, "дашборд")
}

func serveWS(c *gin.Context, hub *Hub, kind string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ Ошибка WebSocket upgrade (%s): %v", kind, err)
		return
	}

	hub.AddClient(conn)
	log.Printf("🔌 Подключен %s (всего: %d)", kind, hub.GetClientsCount())

	defer func() {
		hub.RemoveClient(conn)
		log.Printf("🔌 Отключен %s (осталось: %d)", kind, hub.GetClientsCount())
	}()

	// Читаем только чтобы поймать закрытие соединения, клиенты ничего не шлют
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ Неожиданное закрытие WebSocket (%s): %v", kind, err)
			}
			break
		}
	}
}
