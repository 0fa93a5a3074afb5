package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "payoffgrid/config"
	"payoffgrid/logger"
	"payoffgrid/models"
)

// messageWriter is the slice of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SweepEvent is the message published when a recompute ends.
type SweepEvent struct {
	RunID      string    `json:"run_id"`
	Phase      string    `json:"phase"`
	Cells      int64     `json:"cells"`
	Persisted  int64     `json:"persisted"`
	Skipped    int64     `json:"skipped"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Version    string    `json:"version"`
}

// KafkaWriter publishes one SweepEvent per finished recompute read from a
// progress channel. Intermediate progress is ignored.
type KafkaWriter struct {
	config       *appconfig.Config
	progressChan <-chan models.Progress
	writer       messageWriter
	wg           *sync.WaitGroup
	mu           sync.RWMutex
	running      bool
	lastRunID    string
	log          *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config, progressChan <-chan models.Progress) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := newKafkaWriter(cfg, progressChan, &kafka.Writer{
		Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
		Topic:    cfg.Storage.Kafka.Topic,
		Balancer: &kafka.Hash{},
	})
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(cfg *appconfig.Config, progressChan <-chan models.Progress, w messageWriter) *KafkaWriter {
	return &KafkaWriter{
		config:       cfg,
		progressChan: progressChan,
		writer:       w,
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run(ctx)

	return nil
}

func (kw *KafkaWriter) run(ctx context.Context) {
	defer kw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-kw.progressChan:
			if !ok {
				return
			}
			if !finished(p.Phase) || p.RunID == "" || p.RunID == kw.lastRunID {
				continue
			}
			kw.lastRunID = p.RunID
			if err := kw.publish(ctx, p); err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write sweep event")
			}
		}
	}
}

func (kw *KafkaWriter) publish(ctx context.Context, p models.Progress) error {
	event := SweepEvent{
		RunID:      p.RunID,
		Phase:      string(p.Phase),
		Cells:      p.Done,
		Persisted:  p.Persisted,
		Skipped:    p.Skipped,
		Error:      p.Error,
		StartedAt:  p.StartedAt,
		FinishedAt: p.UpdatedAt,
		Version:    kw.config.Service.Version,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sweep event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(p.RunID),
		Value: data,
	}
	if err := kw.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"run_id": p.RunID,
		"phase":  p.Phase,
	}).Debug("sweep event written to kafka")
	return nil
}

func finished(phase models.SweepPhase) bool {
	switch phase {
	case models.PhaseDone, models.PhaseFailed, models.PhaseCancelled:
		return true
	default:
		return false
	}
}

// Stop waits for the run loop, which ends once its context is done or the
// progress channel closes, then closes the kafka writer.
func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
