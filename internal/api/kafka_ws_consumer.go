package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"aurorapos/server/internal/utils"
)

// QueueEventConsumer читает события очередей из Kafka и раздает их по WebSocket:
// кухонные дисплеи получают все события своих очередей, дашборды получают все.
// Последнее событие каждой очереди кладется в Redis, чтобы новый дисплей мог
// показать актуальное состояние без ожидания следующего события.
type QueueEventConsumer struct {
	reader *kafka.Reader
	redis  *utils.RedisClient
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueueEventConsumer создает консьюмер событий очередей
func NewQueueEventConsumer(brokers, topic, groupID, username, password, caCert string, redis *utils.RedisClient) *QueueEventConsumer {
	brokerList := ParseKafkaBrokers(brokers)
	if len(brokerList) == 0 {
		log.Println("⚠️ Kafka брокеры не заданы, трансляция событий на дисплеи выключена")
		return nil
	}

	dialer := CreateKafkaDialer(username, password, caCert)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokerList,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &QueueEventConsumer{
		reader: reader,
		redis:  redis,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start запускает чтение событий в фоне
func (c *QueueEventConsumer) Start() {
	if c == nil {
		return
	}
	go func() {
		log.Printf("📡 Консьюмер событий очередей запущен (topic: %s)", c.reader.Config().Topic)
		for {
			msg, err := c.reader.ReadMessage(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					log.Println("🛑 Консьюмер событий очередей остановлен")
					return
				}
				log.Printf("⚠️ Ошибка чтения события очереди: %v", err)
				continue
			}
			c.handleMessage(msg.Value)
		}
	}()
}

// handleMessage транслирует событие на дисплеи и кэширует его
func (c *QueueEventConsumer) handleMessage(raw []byte) {
	var event QueueEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		log.Printf("⚠️ Нераспознанное событие очереди: %v", err)
		return
	}

	KitchenHub.BroadcastMessage(raw)
	DashboardHub.BroadcastMessage(raw)

	if c.redis != nil && event.QueueID != "" {
		if err := c.redis.Set("queue:last_event:"+event.QueueID, string(raw), 1*time.Hour); err != nil {
			log.Printf("⚠️ Событие %s не закэшировалось: %v", event.Event, err)
		}
	}
}

// Stop останавливает консьюмер
func (c *QueueEventConsumer) Stop() {
	if c == nil {
		return
	}
	c.cancel()
	if err := c.reader.Close(); err != nil {
		log.Printf("⚠️ Ошибка закрытия Kafka reader: %v", err)
	}
}
