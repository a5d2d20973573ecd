// Package notify publishes every newly appended forecast to a Redis channel.
package notify

import (
	"context"
	"fmt"

	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "eiacast:forecasts"

// Publisher is the subset of a Redis client used to publish messages.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Sink decorates a ForecastSink, publishing each record after it is stored. Records that
// already existed are not published again. A failed publish is logged and never fails the
// append.
type Sink struct {
	next    store.ForecastSink
	pub     Publisher
	channel string
	logger  *zap.Logger
}

// New wraps next. An empty channel uses DefaultChannel.
func New(next store.ForecastSink, pub Publisher, channel string, logger *zap.Logger) *Sink {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{next: next, pub: pub, channel: channel, logger: logger}
}

// Dial connects to the Redis server at url and checks it answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url, %w, %w", err, store.ErrConfiguration)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis, %w, %w", err, store.ErrTransientIO)
	}
	return client, nil
}

func (s *Sink) AppendForecast(ctx context.Context, rec store.ForecastRecord) (bool, error) {
	inserted, err := s.next.AppendForecast(ctx, rec)
	if err != nil || !inserted {
		return inserted, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("unable to encode forecast message", zap.Error(err))
		return true, nil
	}
	if err := s.pub.Publish(ctx, s.channel, data).Err(); err != nil {
		s.logger.Warn("redis publish failed",
			zap.String("channel", s.channel),
			zap.String("forecast_model", rec.ModelName),
			zap.String("period", rec.Period.String()),
			zap.Error(err),
		)
		return true, nil
	}
	metrics.ForecastsPublished.Inc()
	return true, nil
}

func (s *Sink) Forecasts(ctx context.Context) ([]store.ForecastRecord, error) {
	return s.next.Forecasts(ctx)
}
