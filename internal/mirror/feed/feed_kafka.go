package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trustledger/internal/ledger/models"
	"trustledger/internal/platform/config"
	"trustledger/internal/platform/kafka"
)

// KafkaFeed rides the event topic: the emitter produces keyed by subject so
// per-subject order is preserved on the wire, the processor consumes through
// a group, and replay reads the topic again from a timestamp.
type KafkaFeed struct {
	cfg      config.KafkaConfig
	producer *kafka.Producer
	logger   *slog.Logger
}

type KafkaOption func(*KafkaFeed)

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(f *KafkaFeed) { f.logger = logger }
}

func NewKafkaFeed(ctx context.Context, cfg config.KafkaConfig, opts ...KafkaOption) (*KafkaFeed, error) {
	if err := kafka.EnsureTopic(ctx, cfg, 12); err != nil {
		return nil, err
	}
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	f := &KafkaFeed{cfg: cfg, producer: producer, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *KafkaFeed) Publish(ctx context.Context, env models.Envelope) error {
	encoded, err := env.Encode()
	if err != nil {
		return err
	}
	return f.producer.Produce(ctx, []byte(env.Subject), encoded)
}

func (f *KafkaFeed) Close() { f.producer.Close() }

type kafkaSub struct {
	events   chan models.Envelope
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	once     sync.Once

	mu  sync.Mutex
	err error
}

func (s *kafkaSub) Events() <-chan models.Envelope { return s.events }

func (s *kafkaSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *kafkaSub) Close() {
	s.once.Do(func() {
		s.cancel()
	})
}

func (s *kafkaSub) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (f *KafkaFeed) Subscribe(ctx context.Context) (Subscription, error) {
	consumer, err := kafka.NewConsumer(f.cfg)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSub{
		events:   make(chan models.Envelope),
		consumer: consumer,
		cancel:   cancel,
	}

	go func() {
		defer close(sub.events)
		defer consumer.Close()
		for {
			msgs, err := consumer.Poll(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					sub.fail(err)
				}
				return
			}
			for _, msg := range msgs {
				env, err := models.DecodeEnvelope(msg.Value)
				if err != nil {
					// A malformed record is a producer bug; skip it rather
					// than wedging the consumer behind it.
					f.logger.Error("undecodable feed record",
						"offset", msg.Offset, "partition", msg.Partition, "error", err)
					continue
				}
				select {
				case sub.events <- env:
				case <-subCtx.Done():
					return
				}
			}
			if err := consumer.Commit(subCtx); err != nil && subCtx.Err() == nil {
				sub.fail(err)
				return
			}
		}
	}()

	return sub, nil
}

func (f *KafkaFeed) Replay(ctx context.Context, from time.Time, fn func(models.Envelope) error) error {
	return kafka.RangeConsumer(ctx, f.cfg, from, func(msg kafka.Message) error {
		env, err := models.DecodeEnvelope(msg.Value)
		if err != nil {
			f.logger.Error("undecodable record during replay",
				"offset", msg.Offset, "partition", msg.Partition, "error", err)
			return nil
		}
		return fn(env)
	})
}
