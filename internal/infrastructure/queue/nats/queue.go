package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/infrastructure/resilience"
)

// Pipeline subjects. Workers consume the first three through the shared
// queue group; the rest are completion notifications.
const (
	SubjectIndexUpsert  = "index.upsert"
	SubjectGraphUpdate  = "graph.update"
	SubjectAskQueued    = "qa.ask"
	SubjectIndexUpdated = "index.updated"
	SubjectGraphUpdated = "graph.updated"
	SubjectAnswerReady  = "qa.answered"

	queueGroup = "workers"
)

type Queue struct {
	conn     *nats.Conn
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Executor             *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := options.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.QueuePolicy(), logger)
	}

	conn, err := nats.Connect(
		url,
		nats.Name("precedent-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{conn: conn, executor: executor, logger: logger}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishIndexUpsert(ctx context.Context, event domain.IndexUpsertEvent) error {
	return publishJSON(ctx, q, SubjectIndexUpsert, event)
}

func (q *Queue) PublishGraphUpdate(ctx context.Context, event domain.GraphUpdateEvent) error {
	return publishJSON(ctx, q, SubjectGraphUpdate, event)
}

func (q *Queue) PublishAskQueued(ctx context.Context, event domain.AskQueuedEvent) error {
	return publishJSON(ctx, q, SubjectAskQueued, event)
}

func (q *Queue) PublishIndexUpdated(ctx context.Context, event domain.IndexUpdatedEvent) error {
	return publishJSON(ctx, q, SubjectIndexUpdated, event)
}

func (q *Queue) PublishGraphUpdated(ctx context.Context, event domain.GraphUpdatedEvent) error {
	return publishJSON(ctx, q, SubjectGraphUpdated, event)
}

func (q *Queue) PublishAnswerReady(ctx context.Context, event domain.AnswerReadyEvent) error {
	return publishJSON(ctx, q, SubjectAnswerReady, event)
}

func (q *Queue) SubscribeIndexUpsert(ctx context.Context, handler func(context.Context, domain.IndexUpsertEvent) error) error {
	return subscribeJSON(ctx, q, SubjectIndexUpsert, handler)
}

func (q *Queue) SubscribeGraphUpdate(ctx context.Context, handler func(context.Context, domain.GraphUpdateEvent) error) error {
	return subscribeJSON(ctx, q, SubjectGraphUpdate, handler)
}

func (q *Queue) SubscribeAskQueued(ctx context.Context, handler func(context.Context, domain.AskQueuedEvent) error) error {
	return subscribeJSON(ctx, q, SubjectAskQueued, handler)
}

func publishJSON(ctx context.Context, q *Queue, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}
	if err := q.executor.Execute(ctx, "nats_publish", call, classifyNATSError); err != nil {
		return wrapTemporary(subject, err)
	}
	return nil
}

// subscribeJSON consumes subject through the worker queue group and blocks
// until ctx is done, then drains in-flight messages before returning.
func subscribeJSON[T any](ctx context.Context, q *Queue, subject string, handler func(context.Context, T) error) error {
	sub, err := q.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}

		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			q.logger.Error("queue_payload_malformed", "subject", subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			q.logger.Error("queue_handler_failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
