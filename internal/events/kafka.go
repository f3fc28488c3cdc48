package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// NewWriter builds a Kafka writer for one topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewReader builds a consumer-group reader for one topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
}

// ParseMessageJSON decodes a consumed message payload.
func ParseMessageJSON[T any](msg kafka.Message) (T, error) {
	var payload T
	err := json.Unmarshal(msg.Value, &payload)
	return payload, err
}

// Publisher wraps per-topic writers for the scenario event streams.
// A nil Publisher is valid and drops every event, so callers do not
// need Kafka wired in development.
type Publisher struct {
	runs      *kafka.Writer
	lifecycle *kafka.Writer
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewPublisher creates a publisher for the scenario topics.
func NewPublisher(brokers []string, runsTopic, lifecycleTopic string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Publisher {
	return &Publisher{
		runs:      NewWriter(brokers, runsTopic),
		lifecycle: NewWriter(brokers, lifecycleTopic),
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// PublishRunRequested enqueues a scenario for execution by the worker.
func (p *Publisher) PublishRunRequested(ctx context.Context, event RunRequested) error {
	if p == nil {
		return nil
	}
	err := publishJSON(ctx, p.runs, event.ScenarioID.String(), event)
	p.metrics.RecordEventPublished(p.runs.Topic, err)
	if err != nil {
		return fmt.Errorf("failed to publish run request: %w", err)
	}
	p.logger.Debug(ctx, "[EVENT_RUN_REQUESTED] Run request published", logging.Fields{
		"scenario_id": event.ScenarioID.String(),
	})
	return nil
}

// PublishLifecycleChanged emits a status transition. Failures are logged
// and swallowed; lifecycle events are advisory and never block a run.
func (p *Publisher) PublishLifecycleChanged(ctx context.Context, event LifecycleChanged) {
	if p == nil {
		return
	}
	err := publishJSON(ctx, p.lifecycle, event.ScenarioID.String(), event)
	p.metrics.RecordEventPublished(p.lifecycle.Topic, err)
	if err != nil {
		p.logger.Warn(ctx, "[EVENT_LIFECYCLE_ERROR] Failed to publish lifecycle event", logging.Fields{
			"scenario_id": event.ScenarioID.String(),
			"status":      string(event.Status),
		})
	}
}

// Close flushes and closes the underlying writers.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.runs.Close(); err != nil {
		return err
	}
	return p.lifecycle.Close()
}

func publishJSON(ctx context.Context, writer *kafka.Writer, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}
