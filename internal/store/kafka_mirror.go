package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMirror copies telemetry history records onto the platform's ingest
// topic. It is optional and best-effort like every other telemetry sink.
type KafkaMirror struct {
	writer *kafka.Writer
}

func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaMirror{writer: w}
}

func (k *KafkaMirror) MirrorDriver(rec DriverRecord) error {
	return k.publish(rec.DriverID, rec)
}

func (k *KafkaMirror) MirrorOrder(rec OrderRecord) error {
	return k.publish(rec.OrderID, rec)
}

func (k *KafkaMirror) publish(key string, rec any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(rec)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaMirror) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
