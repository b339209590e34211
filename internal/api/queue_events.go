package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// QueueEvent представляет конверт события очереди на шине
type QueueEvent struct {
	QueueID   string                 `json:"queue_id"`
	ItemID    string                 `json:"item_id"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// QueueEventPublisher публикует события очередей в Kafka для дисплеев
// и внешних потребителей. Публикация асинхронная и идет после коммита
// транзакции: потеря события не ломает состояние очереди.
type QueueEventPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewQueueEventPublisher создает издателя событий очередей.
// Пустой список брокеров дает nil: публикация просто выключена.
func NewQueueEventPublisher(brokers, topic, username, password, caCert string) *QueueEventPublisher {
	brokerList := ParseKafkaBrokers(brokers)
	if len(brokerList) == 0 {
		log.Println("⚠️ Kafka брокеры не заданы, события очередей не публикуются")
		return nil
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokerList...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true, // Не блокируем путь постановки в очередь
	}

	dialer := CreateKafkaDialer(username, password, caCert)
	if dialer.SASLMechanism != nil || dialer.TLS != nil {
		writer.Transport = &kafka.Transport{
			SASL: dialer.SASLMechanism,
			TLS:  dialer.TLS,
		}
	}

	log.Printf("🚀 Издатель событий очередей готов: topic=%s, brokers=%v", topic, brokerList)
	return &QueueEventPublisher{writer: writer, topic: topic}
}

// Publish отправляет событие. Подходит как EventPublisher для сервисов:
// queue_id и item_id вынимаются из payload в конверт.
func (p *QueueEventPublisher) Publish(event string, payload map[string]interface{}) {
	if p == nil || p.writer == nil {
		return
	}

	envelope := QueueEvent{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}
	if queueID, ok := payload["queue_id"].(string); ok {
		envelope.QueueID = queueID
	}
	if itemID, ok := payload["item_id"].(string); ok {
		envelope.ItemID = itemID
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("❌ Событие %s не сериализовалось: %v", event, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(envelope.QueueID),
			Value: data,
		})
		if err != nil {
			log.Printf("⚠️ Событие %s не ушло в Kafka: %v", event, err)
		}
	}()
}

// Close закрывает writer
func (p *QueueEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
