package service

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/metrics"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.uber.org/zap"
)

// Notifier accepts notifications after a state change has committed.
// Notify never blocks the caller and never reports failure.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification)
}

// AsyncNotifierConfig configures AsyncNotifier
type AsyncNotifierConfig struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

// AsyncNotifier hands notifications to an EventPublisher from a bounded
// queue drained by worker goroutines. A full queue drops the notification.
type AsyncNotifier struct {
	publisher EventPublisher
	queue     chan queuedNotification
	timeout   time.Duration
	log       *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type queuedNotification struct {
	notification *domain.Notification
	// carrier keeps the request trace across the queue without the request deadline
	carrier map[string]string
}

// NewAsyncNotifier creates and starts an AsyncNotifier
func NewAsyncNotifier(publisher EventPublisher, cfg *AsyncNotifierConfig) *AsyncNotifier {
	queueSize, workers, timeout := 1024, 4, 5*time.Second
	if cfg != nil {
		if cfg.QueueSize > 0 {
			queueSize = cfg.QueueSize
		}
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		if cfg.PublishTimeout > 0 {
			timeout = cfg.PublishTimeout
		}
	}
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}

	n := &AsyncNotifier{
		publisher: publisher,
		queue:     make(chan queuedNotification, queueSize),
		timeout:   timeout,
		log:       logger.Get().With(zap.String("component", "notifier")),
	}

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify enqueues n without blocking
func (a *AsyncNotifier) Notify(ctx context.Context, n *domain.Notification) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		metrics.NotificationsDroppedTotal.Inc()
		a.log.Warn("notifier closed, dropping notification",
			zap.String("type", n.Type.String()),
			zap.String("notification_id", n.ID),
		)
		return
	}

	carrier := make(map[string]string)
	telemetry.InjectHeaders(ctx, carrier)

	select {
	case a.queue <- queuedNotification{notification: n, carrier: carrier}:
	default:
		metrics.NotificationsDroppedTotal.Inc()
		a.log.Warn("notification queue full, dropping notification",
			zap.String("type", n.Type.String()),
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID()),
		)
	}
}

func (a *AsyncNotifier) worker() {
	defer a.wg.Done()

	for item := range a.queue {
		a.publish(item)
	}
}

func (a *AsyncNotifier) publish(item queuedNotification) {
	ctx := telemetry.ExtractHeaders(context.Background(), item.carrier)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	n := item.notification
	if err := a.publisher.Publish(ctx, n); err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues(n.Type.String()).Inc()
		a.log.WithContext(ctx).Error("failed to publish notification",
			zap.String("type", n.Type.String()),
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID()),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsPublishedTotal.WithLabelValues(n.Type.String()).Inc()
}

// Close stops accepting notifications and waits for queued ones to be published
func (a *AsyncNotifier) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}
