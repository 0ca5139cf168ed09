package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/metrics"
	"github.com/prohmpiriya/campus-registration/pkg/kafka"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/retry"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecordSource is the consumer side the worker reads from
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// NotificationWorkerConfig contains configuration for the notification worker
type NotificationWorkerConfig struct {
	// Workers bounds how many event keys are processed in parallel
	Workers int
	// FromAddress is the sender of rendered mail
	FromAddress string
	// Retry is the delivery retry policy before a message is dead-lettered
	Retry *retry.Config
	// PollBackoff is the pause after a failed poll
	PollBackoff time.Duration
}

// DefaultNotificationWorkerConfig returns default configuration
func DefaultNotificationWorkerConfig() *NotificationWorkerConfig {
	return &NotificationWorkerConfig{
		Workers:     4,
		FromAddress: "no-reply@campus.local",
		Retry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		PollBackoff: time.Second,
	}
}

// NotificationWorker consumes registration notifications and delivers
// them through a Mailer. Records of one event are handled in order;
// different events are handled in parallel.
type NotificationWorker struct {
	source RecordSource
	mailer Mailer
	dlq    *retry.DLQHandler
	config *NotificationWorkerConfig
	log    *logger.Logger
}

// NewNotificationWorker creates a new notification worker. A nil
// dlqPublisher drops messages that exhaust their retries.
func NewNotificationWorker(source RecordSource, mailer Mailer, dlqPublisher retry.DLQPublisher, config *NotificationWorkerConfig) *NotificationWorker {
	if config == nil {
		config = DefaultNotificationWorkerConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollBackoff <= 0 {
		config.PollBackoff = time.Second
	}

	w := &NotificationWorker{
		source: source,
		mailer: mailer,
		config: config,
		log:    logger.Get().With(zap.String("component", "notification-worker")),
	}
	w.dlq = retry.NewDLQHandler(dlqPublisher, config.Retry, "notification-worker", func(msg *retry.DLQMessage) {
		metrics.NotificationsDeadLetteredTotal.Inc()
		w.log.Error("notification moved to DLQ",
			zap.String("message_id", msg.ID),
			zap.String("topic", msg.OriginalTopic),
			zap.Int("attempts", msg.Attempts),
			zap.String("error", msg.Error),
		)
	})
	return w
}

// Run polls until ctx is cancelled or the source is closed
func (w *NotificationWorker) Run(ctx context.Context) error {
	w.log.Info("Starting notification worker", zap.Int("workers", w.config.Workers))

	for {
		records, err := w.source.Poll(ctx)
		if err != nil {
			if errors.Is(err, kafka.ErrClientClosed) || ctx.Err() != nil {
				w.log.Info("Notification worker stopped")
				return nil
			}
			w.log.Warn("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.config.PollBackoff):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		if err := w.ProcessBatch(ctx, records); err != nil {
			// Leave the batch uncommitted; it is redelivered from the last
			// committed offset once the worker restarts.
			w.log.Error("batch not committed", zap.Int("records", len(records)), zap.Error(err))
			return err
		}

		if err := w.source.CommitRecords(ctx, records); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("failed to commit offsets", zap.Int("records", len(records)), zap.Error(err))
		}
	}
}

// ProcessBatch handles one polled batch. Every record is either delivered,
// dead-lettered, or skipped as malformed by the time it returns nil. A
// non-nil error means some record could not be dead-lettered and the batch
// must not be committed.
func (w *NotificationWorker) ProcessBatch(ctx context.Context, records []*kafka.Record) error {
	groups := make(map[string][]*kafka.Record)
	var order []string
	for _, r := range records {
		key := string(r.Key)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var g errgroup.Group
	g.SetLimit(w.config.Workers)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for _, r := range group {
				if err := w.handleRecord(ctx, r); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *NotificationWorker) handleRecord(ctx context.Context, r *kafka.Record) error {
	headers := kafka.HeaderMap(r)
	ctx = telemetry.ExtractHeaders(ctx, headers)
	ctx, span := telemetry.StartSpan(ctx, "worker.notification.handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("topic", r.Topic),
		attribute.Int64("offset", r.Offset),
	)

	n, err := decodeNotification(r.Value)
	if err != nil {
		metrics.NotificationsMalformedTotal.Inc()
		w.log.Warn("skipping malformed notification",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.Error(err),
		)
		return nil
	}
	span.SetAttributes(
		attribute.String("notification_id", n.ID),
		attribute.String("notification_type", n.Type.String()),
	)

	mails, err := RenderMails(n, w.config.FromAddress)
	if err != nil {
		metrics.NotificationsMalformedTotal.Inc()
		w.log.Warn("skipping unrenderable notification", zap.String("notification_id", n.ID), zap.Error(err))
		return nil
	}

	msgCtx := &retry.MessageContext{
		ID:      n.ID,
		Topic:   r.Topic,
		Key:     string(r.Key),
		Payload: json.RawMessage(r.Value),
		Headers: headers,
	}
	sent := 0
	err = w.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		// Resume after the last mail that went out.
		for sent < len(mails) {
			if err := w.mailer.Send(ctx, mails[sent]); err != nil {
				return fmt.Errorf("send to %s: %w", mails[sent].To, err)
			}
			sent++
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err, "delivery failed")
		w.log.WithContext(ctx).Error("notification delivery failed",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		if errors.Is(err, retry.ErrDLQPublishFailed) {
			return fmt.Errorf("notification %s: %w", n.ID, err)
		}
		return nil
	}

	metrics.NotificationsDeliveredTotal.WithLabelValues(n.Type.String()).Inc()
	w.log.WithContext(ctx).Debug("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("type", n.Type.String()),
		zap.Int("mails", len(mails)),
	)
	return nil
}

func decodeNotification(value []byte) (*domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" {
		return nil, fmt.Errorf("notification has no id")
	}
	return &n, nil
}
