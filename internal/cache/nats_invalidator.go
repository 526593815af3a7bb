package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxelstore/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator реализует Invalidator через NATS Pub/Sub.
// Собственные сообщения узла отбрасываются по NodeID.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  InvalidatorConfig
	subject string
	nodeID  string
	logger  *logging.Logger

	mu           sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	NATSURL       string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// InvalidationMessage представляет сообщение об инвалидации кеша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS.
func NewNATSInvalidator(config InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.NATSURL == "" {
		config.NATSURL = nats.DefaultURL
	}
	if config.Subject == "" {
		config.Subject = "voxelstore.invalidation"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}

	logger := logging.GetStorageLogger()
	opts := []nats.Option{
		nats.Name("voxelstore-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return &NATSInvalidator{
		conn:    conn,
		config:  config,
		subject: config.Subject,
		nodeID:  nodeID,
		logger:  logger,
	}, nil
}

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(&InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
	})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления; подписка снимается при отмене ctx.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription != nil {
		return errors.New("already subscribed to invalidations")
	}

	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub
	n.handler = handler

	go func() {
		<-ctx.Done()
		n.unsubscribe()
	}()
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.unsubscribe()
	n.conn.Close()
	return nil
}

// GetMetrics возвращает метрики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
		"connected":       n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var im InvalidationMessage
	if err := json.Unmarshal(msg.Data, &im); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if im.NodeID == n.nodeID {
		return
	}

	n.mu.Lock()
	handler := n.handler
	n.mu.Unlock()
	if handler == nil {
		return
	}
	if err := handler(im.Key); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Error("Invalidation handler failed for key %s: %v", im.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		n.logger.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
	n.handler = nil
}
