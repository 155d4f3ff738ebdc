package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Record types
const (
	TypeSend    = "message.sent"
	TypeEdit    = "message.edited"
	TypeReact   = "message.reacted"
	TypeStar    = "message.starred"
	TypeClear   = "chat.cleared"
	TypeBlock   = "chat.blocked"
	TypeUnblock = "chat.unblocked"
)

// Record describes one committed mutation.
type Record struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chatId"`
	ActorID   string    `json:"actorId"`
	MessageID string    `json:"messageId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher appends records to the mutation log.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher writes records to cfg.Topic keyed by chat id, so every
// record of one conversation lands on the same partition in commit order.
func NewKafkaPublisher(cfg Config, logger *zap.Logger) Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newPublisher(writer, logger)
}

func newPublisher(w messageWriter, logger *zap.Logger) *kafkaPublisher {
	return &kafkaPublisher{writer: w, logger: logger}
}

func (p *kafkaPublisher) Publish(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ChatID),
		Value: value,
		Time:  rec.At,
	})
	if err != nil {
		p.logger.Warn("event log write failed",
			zap.String("type", rec.Type),
			zap.String("chat_id", rec.ChatID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", rec.Type, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type nopPublisher struct{}

// Nop returns a Publisher that drops every record.
func Nop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, Record) error { return nil }

func (nopPublisher) Close() error { return nil }
