package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Outcome は投稿枠1件の公開結果イベント。
type Outcome struct {
	SlotID         int64     `json:"slot_id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	PlatformPostID string    `json:"platform_post_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// OutcomeSink は公開結果の通知先。通知の失敗は投稿枠の状態に影響しない。
type OutcomeSink interface {
	Publish(ctx context.Context, outcome Outcome) error
	Close() error
}

// NopSink は何もしないOutcomeSink。
type NopSink struct{}

func (NopSink) Publish(context.Context, Outcome) error { return nil }
func (NopSink) Close() error                           { return nil }

// messageWriter はkafka.Writerのうち使用するメソッド。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink は公開結果をKafkaトピックに送る。キーは投稿枠IDで、同じ投稿枠のイベントは同じパーティションに入る。
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// compile-time interface check
var _ OutcomeSink = (*KafkaSink)(nil)

// NewKafkaSink はKafkaSinkを生成する。
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

// Publish は公開結果を1件送信する。
func (s *KafkaSink) Publish(ctx context.Context, outcome Outcome) error {
	value, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("公開結果のエンコードに失敗しました: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(outcome.SlotID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("slot." + outcome.Status)},
			{Key: "kind", Value: []byte(outcome.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("公開結果の送信に失敗しました (topic=%s): %w", s.topic, err)
	}
	return nil
}

// Close はWriterを閉じる。
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
