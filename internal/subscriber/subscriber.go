package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"roomcast/internal/announcements"
)

type Subscriber struct {
	logger      *slog.Logger
	client      *redis.Client
	topic       string
	multicaster *announcements.Multicaster
}

func NewSubscriber(logger *slog.Logger, client *redis.Client, topic string, multicaster *announcements.Multicaster) *Subscriber {
	return &Subscriber{
		logger,
		client,
		topic,
		multicaster,
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("Redis subscriber is running", "topic", s.topic)
	pubsub := s.client.Subscribe(ctx, s.topic)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Warn("failed to close pubsub", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	msgCh := pubsub.Channel()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				s.logger.Warn("pubsub channel closed by Redis")
				return nil
			}
			if err := s.handleMessage(msg); err != nil {
				s.logger.Error("error handling message", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("shutting down Redis subscriber")
			return nil
		}
	}
}

func (s *Subscriber) handleMessage(msg *redis.Message) error {
	var m AnnouncementMessage
	if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
		return fmt.Errorf("unmarshalling announcement: %w", err)
	}
	if !m.Action.IsValid() {
		return fmt.Errorf("invalid action %q", m.Action)
	}
	if err := m.Data.Validate(m.Action == Notice); err != nil {
		return fmt.Errorf("invalid announcement: %w", err)
	}

	switch m.Action {
	case Notice:
		s.multicaster.MulticastRoom(&m.Data)
		s.logger.Debug("announcement relayed", "room", m.Data.Room)
	case Broadcast:
		n := s.multicaster.MulticastAll(&m.Data)
		s.logger.Debug("announcement broadcast", "rooms", n)
	}
	return nil
}
