// Package telemetry publishes sampler status and logs to an AMQP exchange
// so the web layer and other consumers can observe runs without polling
// the process directly.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jt05610/sampler/pipette"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	statusKey = "sampler.state.status"
	logKey    = "sampler.state.log"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func Dial(uri, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

func (p *Publisher) Close() {
	if err := p.conn.Close(); err != nil {
		p.logger.Warn("close amqp connection", zap.Error(err))
	}
}

func (p *Publisher) publish(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *Publisher) PublishStatus(ctx context.Context, st pipette.Status) error {
	return p.publish(ctx, statusKey, st)
}

func (p *Publisher) PublishLogs(ctx context.Context, lines []string) error {
	return p.publish(ctx, logKey, lines)
}

// Run publishes a status snapshot and the log tail every interval until
// ctx is done. Consumers treat both as snapshots, not deltas.
func (p *Publisher) Run(ctx context.Context, o *pipette.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishStatus(ctx, o.Status()); err != nil {
				p.logger.Error("publish status", zap.Error(err))
				continue
			}
			if err := p.PublishLogs(ctx, o.Logs(20)); err != nil {
				p.logger.Error("publish logs", zap.Error(err))
			}
		}
	}
}
