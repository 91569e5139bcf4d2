// Package kafka wraps franz-go with the small surface the feed needs:
// a sync producer, a group consumer, a range consumer for replay, and
// topic bootstrap via kadm.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"trustledger/internal/platform/config"
)

// Message is the transport-level unit handed to consumers.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// EnsureTopic creates the topic if it does not exist. Safe to call on every
// startup.
func EnsureTopic(ctx context.Context, cfg config.KafkaConfig, partitions int32) error {
	cl, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	defer cl.Close()

	adm := kadm.NewClient(cl)
	resp, err := adm.CreateTopics(ctx, partitions, 1, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
	}
	for _, ctr := range resp {
		if ctr.Err != nil && !kgoIsTopicExists(ctr.Err) {
			return fmt.Errorf("create topic %s: %w", ctr.Topic, ctr.Err)
		}
	}
	return nil
}

func kgoIsTopicExists(err error) bool {
	// kerr.TopicAlreadyExists carries this message; matching the typed error
	// would pull kerr in just for one check.
	return err != nil && err.Error() == "TOPIC_ALREADY_EXISTS: Topic with this name already exists."
}

// Producer publishes records synchronously. The ledger emitter requires a
// confirmed write before a transaction is considered committed.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer dials the brokers and returns a producer bound to the event
// topic.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{client: client, topic: cfg.Topic}, nil
}

// Produce writes one record and waits for the broker ack. Key selects the
// partition, which is what preserves per-subject ordering on the wire.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	record := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() { p.client.Close() }

// Consumer is a group consumer for live processing.
type Consumer struct {
	client *kgo.Client
}

// NewConsumer joins the consumer group at the committed offset.
func NewConsumer(cfg config.KafkaConfig) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Poll fetches the next batch of messages. Returns ctx.Err when the context
// is cancelled.
func (c *Consumer) Poll(ctx context.Context) ([]Message, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("fetch %s: %w", errs[0].Topic, errs[0].Err)
	}
	var msgs []Message
	fetches.EachRecord(func(r *kgo.Record) {
		msgs = append(msgs, Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		})
	})
	return msgs, nil
}

// Commit marks everything returned by prior Polls as processed.
func (c *Consumer) Commit(ctx context.Context) error {
	return c.client.CommitUncommittedOffsets(ctx)
}

func (c *Consumer) Close() { c.client.Close() }

// RangeConsumer reads a closed historical window, for replay. It uses a
// groupless client starting at the first offset after `from`.
func RangeConsumer(ctx context.Context, cfg config.KafkaConfig, from time.Time, handle func(Message) error) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AfterMilli(from.UnixMilli())),
	)
	if err != nil {
		return fmt.Errorf("kafka range consumer: %w", err)
	}
	defer client.Close()

	end, err := kadm.NewClient(client).ListEndOffsets(ctx, cfg.Topic)
	if err != nil {
		return fmt.Errorf("list end offsets: %w", err)
	}
	remaining := make(map[int32]int64)
	end.Each(func(o kadm.ListedOffset) {
		if o.Offset > 0 {
			remaining[o.Partition] = o.Offset
		}
	})

	for len(remaining) > 0 {
		fetches := client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return fmt.Errorf("replay fetch %s: %w", errs[0].Topic, errs[0].Err)
		}
		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			if err := handle(Message{
				Topic:     r.Topic,
				Partition: r.Partition,
				Offset:    r.Offset,
				Key:       r.Key,
				Value:     r.Value,
				Timestamp: r.Timestamp,
			}); err != nil {
				handleErr = err
				return
			}
			if r.Offset+1 >= remaining[r.Partition] {
				delete(remaining, r.Partition)
			}
		})
		if handleErr != nil {
			return handleErr
		}
	}
	return nil
}
