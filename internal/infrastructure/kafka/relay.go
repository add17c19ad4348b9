package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	componentRelay  = "kafka_relay"
	peerKafka       = "kafka"
	headerEventType = "event_type"
)

// Producer is the part of *kafka.Writer the relay needs.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Relay forwards bus events to a Kafka topic, keyed by order id so one
// order's events stay ordered within a partition.
type Relay struct {
	producer Producer
	topic    string

	log      observability.Logger
	counter  observability.Counter
	duration observability.Histogram
}

func NewRelay(producer Producer, topic string, tel observability.Observability) *Relay {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Relay{
		producer: producer,
		topic:    topic,
		log:      tel.Logger().With(observability.F("component", componentRelay)),
		counter:  tel.Metrics().Counter(observability.MExternalRequests),
		duration: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Handle matches outbox.Handler.
func (r *Relay) Handle(ctx context.Context, e domoutbox.Event) error {
	msg, err := r.message(ctx, e)
	if err != nil {
		return err
	}

	start := time.Now()
	err = r.producer.WriteMessages(ctx, msg)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.counter.Add(1,
		observability.L("peer", peerKafka),
		observability.L("endpoint", r.topic),
		observability.L("outcome", outcome),
	)
	r.duration.Observe(time.Since(start).Seconds(),
		observability.L("peer", peerKafka),
		observability.L("endpoint", r.topic),
	)

	logger := logctx.FromOr(ctx, r.log).With(observability.F("event", e.EventName()))
	if err != nil {
		logger.Error("kafka_relay_failed", observability.Err(err))
		return fmt.Errorf("kafka: write %s: %w", e.EventName(), err)
	}
	logger.Debug("kafka_relayed", observability.F("topic", r.topic))
	return nil
}

func (r *Relay) message(ctx context.Context, e domoutbox.Event) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encode %s: %w", e.EventName(), err)
	}
	headers := []kafka.Header{{Key: headerEventType, Value: []byte(e.EventName())}}
	headers = InjectTraceHeaders(ctx, headers)

	return kafka.Message{
		Topic:   r.topic,
		Key:     []byte(domoutbox.AggregateID(e)),
		Value:   payload,
		Headers: headers,
		Time:    time.Now().UTC(),
	}, nil
}

// InjectTraceHeaders appends the W3C trace context of ctx to headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// ExtractTraceHeaders is the consumer-side counterpart of InjectTraceHeaders.
func ExtractTraceHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
