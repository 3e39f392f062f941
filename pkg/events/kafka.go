package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards envelopes to a Kafka topic from a background
// goroutine. Messages are keyed by the first concerned account so one
// account's notifications stay on one partition.
type KafkaSink struct {
	writer messageWriter
	log    *zap.Logger

	queue chan Envelope
	wg    sync.WaitGroup
	once  sync.Once
}

const kafkaQueueSize = 4096

func NewKafkaSink(brokers []string, topic string, log *zap.Logger) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func newKafkaSink(w messageWriter, log *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		writer: w,
		log:    log,
		queue:  make(chan Envelope, kafkaQueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Publish enqueues env; when the queue is full the envelope is dropped and
// logged rather than stalling the exchange.
func (s *KafkaSink) Publish(env Envelope) {
	select {
	case s.queue <- env:
	default:
		s.log.Warn("kafka_queue_full", zap.Uint64("seq", env.Seq), zap.String("type", env.Type))
	}
}

func (s *KafkaSink) run() {
	defer s.wg.Done()
	for env := range s.queue {
		value, err := json.Marshal(env)
		if err != nil {
			s.log.Error("kafka_encode_failed", zap.Uint64("seq", env.Seq), zap.Error(err))
			continue
		}
		msg := kafka.Message{Value: value}
		if accts := env.Accounts(); len(accts) > 0 {
			msg.Key = accts[0].Bytes()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = s.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.log.Error("kafka_publish_failed", zap.Uint64("seq", env.Seq), zap.String("type", env.Type), zap.Error(err))
		}
	}
}

// Close drains queued envelopes and closes the writer.
func (s *KafkaSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
		err = s.writer.Close()
	})
	return err
}
