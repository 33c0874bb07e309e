package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

const flushTimeoutMs = 5000

// KafkaPublisher produces action events to a Kafka topic, keyed by action id
// so every event of one action lands on the same partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
	done     chan struct{}
}

// NewKafkaPublisher creates a producer for broker and starts its delivery report loop.
func NewKafkaPublisher(broker, topic string, logger *logrus.Logger) (*KafkaPublisher, error) {
	config := kafka.ConfigMap{
		"bootstrap.servers": broker,
		"client.id":         "devicehub",
		"acks":              "all",
	}

	producer, err := kafka.NewProducer(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go p.deliveryReport()

	logger.WithFields(logrus.Fields{"broker": broker, "topic": topic}).Info("Kafka producer initialized")
	return p, nil
}

// Check Events channel of kafka and log failed deliveries
func (p *KafkaPublisher) deliveryReport() {
	defer close(p.done)
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Errorf("Message delivery failed: %v", ev.TopicPartition.Error)
			}
		case kafka.Error:
			p.logger.Warnf("Kafka error: %v", ev)
		}
	}
}

func (p *KafkaPublisher) Publish(_ context.Context, ev ActionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	topic := p.topic
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.ActionID.String()),
		Value:          value,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer
func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(flushTimeoutMs); remaining > 0 {
		p.logger.Warnf("Kafka producer closed with %d undelivered events", remaining)
	}
	p.producer.Close()
	<-p.done
	p.logger.Info("Kafka producer closed")
}
