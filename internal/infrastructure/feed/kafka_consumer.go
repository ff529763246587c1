package feed

import (
	"context"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/usecase"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BatchIngester reconciles a batch of raw observations.
type BatchIngester interface {
	IngestBatch(ctx context.Context, raws []domain.RawObservation) (*usecase.BatchReport, error)
}

// KafkaConsumerConfig holds configuration for the Kafka consumer
type KafkaConsumerConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	BatchSize    int
	BatchTimeout time.Duration
	Backoff      Backoff
}

// NewKafkaReader builds a consumer-group reader with manual commits.
func NewKafkaReader(cfg KafkaConsumerConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// KafkaConsumer reads observation messages, ingests them in batches and commits
// offsets only once a batch went through without transient storage failures.
// Delivery is at least once; re-ingesting an observation is harmless.
type KafkaConsumer struct {
	reader       MessageReader
	ingester     BatchIngester
	logger       *logrus.Logger
	batchSize    int
	batchTimeout time.Duration
	backoff      Backoff
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(reader MessageReader, ingester BatchIngester, logger *logrus.Logger, cfg KafkaConsumerConfig) *KafkaConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	return &KafkaConsumer{
		reader:       reader,
		ingester:     ingester,
		logger:       logger,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		backoff:      cfg.Backoff,
	}
}

// Run consumes until ctx is cancelled, then closes the reader. Messages of an
// unfinished batch stay uncommitted and are delivered again.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{
		"batch_size":    c.batchSize,
		"batch_timeout": c.batchTimeout,
	}).Info("Starting Kafka consumer")

	messages := make(chan kafka.Message, c.batchSize)
	go c.fetch(ctx, messages)

	batch := make([]kafka.Message, 0, c.batchSize)
	ticker := time.NewTicker(c.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("pending", len(batch)).Info("Shutting down Kafka consumer")
			return c.reader.Close()
		case msg := <-messages:
			batch = append(batch, msg)
			if len(batch) < c.batchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		}

		if err := c.flush(ctx, batch); err != nil {
			c.logger.WithField("pending", len(batch)).Info("Shutting down Kafka consumer")
			return c.reader.Close()
		}
		batch = batch[:0]
		ticker.Reset(c.batchTimeout)
	}
}

func (c *KafkaConsumer) fetch(ctx context.Context, out chan<- kafka.Message) {
	attempt := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := c.backoff.Delay(attempt)
			c.logger.WithError(err).Warnf("Error fetching message, retrying in %v", delay)
			if sleepContext(ctx, delay) != nil {
				return
			}
			continue
		}
		attempt = 0

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush ingests batch and commits it. It only fails when ctx is cancelled.
func (c *KafkaConsumer) flush(ctx context.Context, batch []kafka.Message) error {
	var raws []domain.RawObservation
	for _, msg := range batch {
		observations, err := DecodeObservations(msg.Value)
		if err != nil {
			// a message that never decodes would block the partition forever
			c.logger.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("Skipping undecodable message")
			continue
		}
		raws = append(raws, observations...)
	}

	if len(raws) > 0 {
		if err := c.ingest(ctx, raws); err != nil {
			return err
		}
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WithError(err).WithField("messages", len(batch)).Error("Error committing messages")
		return nil
	}
	c.logger.WithFields(logrus.Fields{
		"messages":     len(batch),
		"observations": len(raws),
	}).Debug("Committed batch")
	return nil
}

// ingest retries the whole batch until no observation failed on storage.
func (c *KafkaConsumer) ingest(ctx context.Context, raws []domain.RawObservation) error {
	for attempt := 1; ; attempt++ {
		report, err := c.ingester.IngestBatch(ctx, raws)
		if err != nil {
			return err
		}
		if !report.HasTransientFailures() {
			return nil
		}

		delay := c.backoff.Delay(attempt)
		c.logger.WithFields(logrus.Fields{
			"run_id":  report.RunID,
			"failed":  report.Failed,
			"attempt": attempt,
		}).Warnf("Batch had storage failures, retrying in %v", delay)
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
	}
}
