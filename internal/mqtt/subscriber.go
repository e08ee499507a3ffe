package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/guruprasath0306/Silo-Monitor/internal/config"
	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
)

// Subscriber is a change feed backed by the broker. Messages that do not decode
// into a valid event are logged and dropped.
type Subscriber struct {
	*conn
	topic      string
	subscribed atomic.Bool

	handlerMu sync.RWMutex
	handler   feed.Handler
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) *Subscriber {
	s := &Subscriber{topic: cfg.MQTTTopic}
	// Each watcher gets its own client id so several can share a broker.
	clientID := fmt.Sprintf("%s-sub-%s", cfg.MQTTClientID, uuid.NewString()[:8])
	s.conn = newConn(cfg, clientID, logger, s.resubscribe)
	return s
}

// SetMessageHandler replaces the handler called for each valid event.
func (s *Subscriber) SetMessageHandler(handler feed.Handler) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

// Subscribe connects, subscribes to the topic and delivers events to handler
// until the returned subscription is closed.
func (s *Subscriber) Subscribe(ctx context.Context, handler feed.Handler) (feed.Subscription, error) {
	s.SetMessageHandler(handler)
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.Disconnect()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return s, nil
}

func (s *Subscriber) Close() error {
	s.Disconnect()
	return nil
}

func (s *Subscriber) Disconnect() {
	s.disconnect(func() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(2 * time.Second)
	})
}

// resubscribe restores the subscription after an automatic reconnect; the
// session is clean so the broker forgets it.
func (s *Subscriber) resubscribe() {
	if !s.subscribed.Load() {
		return
	}
	go func() {
		if err := s.subscribe(); err != nil {
			s.logger.Warn("mqtt resubscribe failed", "topic", s.topic, "error", err)
		}
	}()
}

func (s *Subscriber) subscribe() error {
	if !s.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	token := s.client.Subscribe(s.topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}

	s.subscribed.Store(true)
	s.logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	ev, err := feed.Decode(payload)
	if err != nil {
		s.logger.Warn("invalid change event",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}

	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	handler(ev)
	s.logger.Debug("delivered change event", "type", ev.Type, "id", ev.RowID())
}
