package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"build-collector/src/logger"
)

// RedpandaOptions configure a RedpandaBroker.
type RedpandaOptions struct {
	Brokers  []string
	ClientID string
	// FromStart makes a new consumer group read a topic from its first
	// record instead of only records produced after it joined.
	FromStart bool
	// DeliveryTimeout bounds how long a produced record may wait for acks.
	DeliveryTimeout time.Duration
}

// RedpandaBroker is a Kafka-compatible broker implementation using franz-go.
type RedpandaBroker struct {
	producer *kgo.Client
	opts     RedpandaOptions
	logger   logger.Logger

	mu        sync.Mutex
	consumers map[string]*kgo.Client // topic:group -> consumer
	closed    bool
}

// NewRedpandaBroker creates the producer client. Consumers are created per
// Subscribe call.
func NewRedpandaBroker(opts RedpandaOptions, log logger.Logger) (*RedpandaBroker, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = "build-collector"
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ClientID(opts.ClientID),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
		kgo.RecordDeliveryTimeout(opts.DeliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &RedpandaBroker{
		producer:  producer,
		opts:      opts,
		logger:    log,
		consumers: make(map[string]*kgo.Client),
	}, nil
}

// Ping checks that at least one seed broker is reachable.
func (b *RedpandaBroker) Ping(ctx context.Context) error {
	if err := b.producer.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach brokers %v: %w", b.opts.Brokers, err)
	}
	return nil
}

// Publish produces one record and waits for it to be acknowledged. The key
// selects the partition, so events for one job stay ordered.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	if b.isClosed() {
		return fmt.Errorf("broker is closed")
	}

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := b.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins groupID and streams topic's records until ctx is done or
// the broker closes. Only one subscription per topic and group is allowed.
func (b *RedpandaBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	key := topic + ":" + groupID
	if _, exists := b.consumers[key]; exists {
		return nil, fmt.Errorf("consumer already exists for topic %s and group %s", topic, groupID)
	}

	reset := kgo.NewOffset().AtEnd()
	if b.opts.FromStart {
		reset = kgo.NewOffset().AtStart()
	}
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(b.opts.Brokers...),
		kgo.ClientID(b.opts.ClientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(reset),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	b.consumers[key] = consumer

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		defer b.dropConsumer(key, consumer)
		b.consume(ctx, consumer, out)
	}()
	return out, nil
}

func (b *RedpandaBroker) consume(ctx context.Context, consumer *kgo.Client, out chan<- Message) {
	for ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error("[Redpanda] Fetch error on %s/%d: %v", topic, partition, err)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			r := iter.Next()
			select {
			case out <- Message{
				Topic:     r.Topic,
				Key:       string(r.Key),
				Value:     r.Value,
				Offset:    r.Offset,
				Partition: r.Partition,
				Timestamp: r.Timestamp.UnixMilli(),
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *RedpandaBroker) dropConsumer(key string, consumer *kgo.Client) {
	b.mu.Lock()
	owned := b.consumers[key] == consumer
	if owned {
		delete(b.consumers, key)
	}
	b.mu.Unlock()

	// Close() has already closed consumers it took from the map.
	if owned {
		consumer.Close()
	}
}

func (b *RedpandaBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close flushes pending records and shuts down the producer and consumers.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.consumers = make(map[string]*kgo.Client)
	b.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.DeliveryTimeout)
	defer cancel()
	err := b.producer.Flush(ctx)
	b.producer.Close()
	if err != nil {
		return fmt.Errorf("failed to flush producer: %w", err)
	}
	return nil
}
