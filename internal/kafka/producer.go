package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/segmentio/kafka-go"
)

// Event names.
const (
	EventTicketCreated    = "ticket.created"
	EventTicketUpdated    = "ticket.updated"
	EventTicketDeleted    = "ticket.deleted"
	EventTicketOCRApplied = "ticket.ocr_applied"
)

// TicketEventProducer: интерфейс для отправки событий тикета (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, key string, payload map[string]any)
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой, методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	p := &Producer{log: logger.WithComponent("kafka")}
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return p
}

func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceTicketEvent отправляет событие; key (номер тикета) держит события одного тикета в одной партиции.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, key string, payload map[string]any) {
	if p.writer == nil {
		return
	}
	body, err := encodeEvent(event, payload)
	if err != nil {
		p.log.Error("marshal ticket event", "event", event, "error", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		p.log.Error("write ticket event", "event", event, "key", key, "error", err)
	}
}

func encodeEvent(event string, payload map[string]any) ([]byte, error) {
	msg := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg["event"] = event
	msg["occurred_at"] = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
