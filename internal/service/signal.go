package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const signalChannel = "milkd:signals"

// Signal announces a completed refresh cycle to realtime subscribers.
type Signal struct {
	Type        string    `json:"type"`
	RefreshedAt time.Time `json:"refreshedAt"`
	Listings    int       `json:"listings"`
	Threads     int       `json:"threads"`
	Drops       int       `json:"drops"`
}

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, signal Signal) error {
	jsonstr, err := json.Marshal(signal)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, signalChannel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards published signals to output until ctx is cancelled.
func (s *SignalService) Realtime(ctx context.Context, output chan<- Signal) {
	pubsub := s.rdb.Subscribe(ctx, signalChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var signal Signal
			if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
				slog.ErrorContext(
					ctx, "Failed to decode signal",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
				continue
			}
			select {
			case output <- signal:
			case <-ctx.Done():
				return
			}
		}
	}
}
