package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

// Message is the payload written for every status notification.
type Message struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

type Stats struct {
	ConnectionHealthy bool      `json:"connection_healthy"`
	TotalMessages     int64     `json:"total_messages"`
	WriteErrorCount   int64     `json:"write_error_count"`
	LastWriteAt       time.Time `json:"last_write_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}

// Poster publishes status messages to a Kafka topic and waits for delivery.
type Poster struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	brokers  string
	logger   *zap.Logger

	statsMu sync.RWMutex
	stats   Stats
}

// ParseURL reads kafka://broker:port/topic?key=value. Query parameters are
// passed through as producer configuration.
func ParseURL(uri *url.URL) (kafka.ConfigMap, string, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return nil, "", fmt.Errorf("topic must be specified in URL path")
	}
	if uri.Host == "" {
		return nil, "", fmt.Errorf("broker must be specified in URL host")
	}

	config := kafka.ConfigMap{
		"bootstrap.servers":   uri.Host,
		"client.id":           "pixelator-notifier",
		"acks":                "1",
		"retries":             "3",
		"linger.ms":           "5",
		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "10000",
	}

	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}
	return config, topic, nil
}

func NewPoster(uri *url.URL, logger *zap.Logger) (*Poster, error) {
	config, topic, err := ParseURL(uri)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poster{
		config:  config,
		topic:   topic,
		brokers: uri.Host,
		logger:  logger,
	}, nil
}

func (p *Poster) Connect(ctx context.Context) error {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	producer, err := kafka.NewProducer(&p.config)
	if err != nil {
		p.stats.ConnectionHealthy = false
		p.stats.LastError = err.Error()
		return err
	}

	p.producer = producer
	p.stats.ConnectionHealthy = true
	p.stats.LastError = ""

	// Drains events not tied to a delivery channel.
	go func() {
		defer p.logger.Info("Producer event loop closed")

		for e := range producer.Events() {
			if ev, ok := e.(kafka.Error); ok {
				p.logger.Error("Producer error", zap.Error(ev))
			}
		}
	}()

	p.logger.Info("Kafka notifier connected",
		zap.String("topic", p.topic),
		zap.String("brokers", p.brokers))

	return nil
}

func (p *Poster) Post(ctx context.Context, message string) error {
	if p.producer == nil {
		return fmt.Errorf("kafka poster not connected")
	}

	data, err := json.Marshal(Message{Text: message, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Value: data,
	}, delivery)
	if err != nil {
		p.recordError(err)
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			p.recordError(m.TopicPartition.Error)
			return m.TopicPartition.Error
		}
		p.logger.Debug("Message delivered",
			zap.String("topic", p.topic),
			zap.Int32("partition", m.TopicPartition.Partition),
			zap.Int64("offset", int64(m.TopicPartition.Offset)))
	}

	p.statsMu.Lock()
	p.stats.TotalMessages++
	p.stats.LastWriteAt = time.Now()
	p.stats.LastError = ""
	p.statsMu.Unlock()
	return nil
}

func (p *Poster) recordError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.WriteErrorCount++
	p.stats.LastError = err.Error()
}

func (p *Poster) Close() error {
	if p.producer != nil {
		p.producer.Flush(5000)
		p.producer.Close()
	}

	p.statsMu.Lock()
	p.stats.ConnectionHealthy = false
	p.statsMu.Unlock()

	stats := p.Stats()
	p.logger.Info("Kafka notifier closed",
		zap.Int64("total_messages", stats.TotalMessages),
		zap.Int64("write_errors", stats.WriteErrorCount),
		zap.String("last_error", stats.LastError))
	return nil
}

func (p *Poster) Stats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}
