package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Poster publishes status messages to a Pub/Sub topic.
type Poster struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
	owned  bool
}

type Option func(*Poster)

func WithLogger(l *zap.Logger) Option {
	return func(p *Poster) {
		p.logger = l
	}
}

// New connects to project and publishes to topicID, creating the topic when
// it does not exist.
func New(ctx context.Context, project, topicID string, clientOpts []option.ClientOption, opts ...Option) (*Poster, error) {
	client, err := pubsub.NewClient(ctx, project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	p, err := NewWithClient(ctx, client, topicID, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

func NewWithClient(ctx context.Context, client *pubsub.Client, topicID string, opts ...Option) (*Poster, error) {
	p := &Poster{
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking topic %s: %w", topicID, err)
	}
	if !exists {
		p.logger.Info("creating topic", zap.String("topic", topicID))
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %w", topicID, err)
		}
	}
	p.topic = topic
	return p, nil
}

func (p *Poster) Post(ctx context.Context, message string) error {
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       []byte(message),
		Attributes: map[string]string{"source": "pixelator"},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return err
	}
	p.logger.Debug("status published", zap.String("message_id", id))
	return nil
}

func (p *Poster) Close() error {
	p.topic.Stop()
	if p.owned {
		return p.client.Close()
	}
	return nil
}
