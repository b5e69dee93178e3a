// Package notify publishes flow snapshots to an AMQP exchange so other
// services can follow user flows.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/flow"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	timeout  time.Duration
	logger   *slog.Logger
}

// Dial connects and declares a durable topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, clierr.New(clierr.CodeUsage, "amqp url is required")
	}
	if exchange == "" {
		exchange = "vaultflow.flows"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect to amqp broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "open amqp channel", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "declare amqp exchange", err)
	}
	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, timeout: 5 * time.Second, logger: logger}
}

// RoutingKey is flow.<kind>.<step>, e.g. flow.deposit.confirming.
func RoutingKey(s flow.State) string {
	return fmt.Sprintf("flow.%s.%s", s.Kind, s.Step)
}

func (p *Publisher) Publish(ctx context.Context, s flow.State) error {
	body, err := json.Marshal(s)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode flow event", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(s), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    s.ID + ":" + string(s.Step),
		Timestamp:    s.UpdatedAt,
		Type:         "vaultflow.flow." + string(s.Kind),
		Body:         body,
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "publish flow event", err)
	}
	return nil
}

// Sink publishes each step change once. Broker failures are logged only.
func (p *Publisher) Sink() flow.Sink {
	var (
		mu   sync.Mutex
		last string
	)
	return flow.SinkFunc(func(s flow.State) {
		if s.ID == "" {
			return
		}
		key := s.ID + ":" + string(s.Step)
		mu.Lock()
		dup := key == last
		last = key
		mu.Unlock()
		if dup {
			return
		}
		if err := p.Publish(context.Background(), s); err != nil {
			p.logger.Warn("publish flow event", "flow_id", s.ID, "step", s.Step, "err", err)
		}
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
