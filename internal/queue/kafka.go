package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

// Task asks a worker to run one cycle of a case.
type Task struct {
	Case       model.Case `json:"case"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

func EncodeTask(c model.Case, now time.Time) ([]byte, error) {
	return json.Marshal(Task{Case: c, EnqueuedAt: now.UTC()})
}

func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.Case.ID == "" {
		return Task{}, fmt.Errorf("decode task: missing case id")
	}
	return t, nil
}

// Producer publishes case tasks keyed by case id, so every cycle of one case
// lands on the same partition and is consumed by one worker at a time.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.QueueConfig, logger *slog.Logger) *Producer {
	if logger != nil {
		logger.Info("kafka dispatch enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

func (p *Producer) Dispatch(ctx context.Context, c model.Case) error {
	value, err := EncodeTask(c, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.ID), Value: value}); err != nil {
		return fmt.Errorf("publish case %s: %w", c.ID, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

type Runner interface {
	RunCycle(ctx context.Context, c model.Case) (*model.CycleReport, error)
}

// StartConsumer runs cycles for tasks read from the topic until ctx ends.
// Offsets are committed after the cycle, whatever its outcome; the next
// scheduled tick retries a failed case.
func StartConsumer(ctx context.Context, cfg config.QueueConfig, runner Runner, logger *slog.Logger) {
	if logger != nil {
		logger.Info("kafka worker enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	go func() {
		defer reader.Close()
		var backoff time.Duration
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff = nextBackoff(backoff)
				if logger != nil {
					logger.Warn("kafka fetch error", "err", err, "retry_in", backoff)
				}
				if !BackoffSleep(ctx, backoff) {
					return
				}
				continue
			}
			backoff = 0
			handle(ctx, m, runner, logger)
			if err := reader.CommitMessages(ctx, m); err != nil && logger != nil && ctx.Err() == nil {
				logger.Warn("kafka commit error", "partition", m.Partition, "offset", m.Offset, "err", err)
			}
		}
	}()
}

func handle(ctx context.Context, m kafka.Message, runner Runner, logger *slog.Logger) {
	task, err := DecodeTask(m.Value)
	if err != nil {
		if logger != nil {
			logger.Warn("dropping malformed task", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		return
	}
	if _, err := runner.RunCycle(ctx, task.Case); err != nil && logger != nil {
		logger.Error("case cycle failed", "case_id", task.Case.ID, "err", err)
	}
}
