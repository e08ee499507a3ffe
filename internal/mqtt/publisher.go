package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/config"
	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
)

// Publisher forwards change events from the hub to the configured topic.
type Publisher struct {
	*conn
	topic string
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:  newConn(cfg, cfg.MQTTClientID+"-pub", logger, nil),
		topic: cfg.MQTTTopic,
	}
}

func (p *Publisher) Connect(ctx context.Context) error {
	return p.connect(ctx)
}

func (p *Publisher) Publish(ev feed.Event) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := p.client.Publish(p.topic, qos, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug("published change event", "topic", p.topic, "type", ev.Type, "id", ev.RowID())
	return nil
}

// Run publishes every hub event until ctx is done or the hub closes. Failed
// publishes are logged; the event is not retried.
func (p *Publisher) Run(ctx context.Context, hub *feed.Hub) error {
	l, err := hub.Listen("mqtt " + p.topic)
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-l.Events():
			if !ok {
				return nil
			}
			if err := p.Publish(ev); err != nil {
				p.logger.Error("failed to publish change event",
					"topic", p.topic,
					"type", ev.Type,
					"id", ev.RowID(),
					"error", err,
				)
			}
		}
	}
}

func (p *Publisher) Disconnect() {
	p.disconnect(nil)
}
