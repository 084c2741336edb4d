// Package feed publishes executed trades to kafka
package feed

import (
	"github.com/chucky-1/venue/internal/model"
	"github.com/segmentio/kafka-go"

	"context"
	"encoding/json"
	"fmt"
)

// Writer is the part of kafka.Writer the publisher needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes every executed trade to a topic, keyed by symbol so the
// per-symbol order of fills survives partitioning
type Publisher struct {
	writer Writer
}

// NewPublisher is constructor
func NewPublisher(writer Writer) *Publisher {
	return &Publisher{writer: writer}
}

// Publish sends one executed trade
func (p *Publisher) Publish(ctx context.Context, trade *model.Trade) error {
	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade %d: %w", trade.ID, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(trade.Symbol),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish trade %d: %w", trade.ID, err)
	}
	return nil
}
