package notify

import (
	"context"
	"errors"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Slack posts messages to a channel with a bot token.
type Slack struct {
	client  *slack.Client
	channel string
	apiURL  string
	logger  *zap.Logger
}

type SlackOption func(*Slack)

func SlackWithLogger(l *zap.Logger) SlackOption {
	return func(s *Slack) {
		s.logger = l
	}
}

// SlackWithAPIURL points the client at a different API root, e.g. a test
// server. The URL must end with a slash.
func SlackWithAPIURL(u string) SlackOption {
	return func(s *Slack) {
		s.apiURL = u
	}
}

func NewSlack(token, channel string, opts ...SlackOption) (*Slack, error) {
	if token == "" {
		return nil, errors.New("slack token is required")
	}
	if channel == "" {
		return nil, errors.New("slack channel is required")
	}
	s := &Slack{
		channel: channel,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var clientOpts []slack.Option
	if s.apiURL != "" {
		clientOpts = append(clientOpts, slack.OptionAPIURL(s.apiURL))
	}
	s.client = slack.New(token, clientOpts...)
	return s, nil
}

func (s *Slack) Post(ctx context.Context, message string) error {
	_, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(message, false),
	)
	if err != nil {
		return err
	}
	s.logger.Debug("slack message posted", zap.String("channel", s.channel), zap.String("ts", ts))
	return nil
}
