package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"flowtrack/internal/metrics"
	"flowtrack/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus delivers facts over Redis pub/sub and keeps a replayable stream per channel
type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	metrics metrics.Collector
	streams *Streams
}

func New(rdb *redis.Client, collector metrics.Collector, log *zap.Logger) *Bus {
	return &Bus{
		rdb:     rdb,
		log:     log,
		metrics: collector,
		streams: NewStreams(rdb, log),
	}
}

// GetStreams returns the streams provider
func (b *Bus) GetStreams() *Streams {
	return b.streams
}

// UserChannel carries every fact about a learner
func UserChannel(userID string) string {
	return "user:" + userID
}

// AssignmentChannel carries the facts of one assignment
func AssignmentChannel(assignmentID string) string {
	return "assignment:" + assignmentID
}

// Dispatch publishes each fact to its user and assignment channels. Delivery
// continues past a failing fact; the errors are joined.
func (b *Bus) Dispatch(ctx context.Context, facts []model.Fact) error {
	var errs []error
	for _, f := range facts {
		event := f.ToEvent()
		for _, channel := range []string{UserChannel(f.UserID), AssignmentChannel(f.AssignmentID)} {
			if _, err := b.Publish(ctx, channel, event); err != nil {
				errs = append(errs, fmt.Errorf("failed to publish %s to %s: %w", f.Type, channel, err))
			}
		}
		b.metrics.RecordFactPublished(string(f.Type))
	}
	return errors.Join(errs...)
}

// Publish publishes an event to a channel and returns its stream sequence.
func (b *Bus) Publish(ctx context.Context, channel string, event map[string]interface{}) (int64, error) {
	// Stream first so the sequence can ride along on the live message
	seq, err := b.streams.PublishEvent(ctx, channel, event)
	if err != nil {
		b.log.Warn("Failed to publish to stream", zap.String("channel", channel), zap.Error(err))
	}

	eventWithSeq := make(map[string]interface{}, len(event)+1)
	for k, v := range event {
		eventWithSeq[k] = v
	}
	eventWithSeq["seq"] = seq

	data, err := json.Marshal(eventWithSeq)
	if err != nil {
		return 0, err
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return 0, err
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.Int64("seq", seq), zap.String("event", string(data)))
	return seq, nil
}

// LogDispatcher only logs facts. It stands in for the bus when no Redis is configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, facts []model.Fact) error {
	for _, f := range facts {
		d.log.Info("Fact",
			zap.String("type", string(f.Type)),
			zap.String("user_id", f.UserID),
			zap.String("assignment_id", f.AssignmentID),
			zap.Float64("overall_progress", f.OverallProgress),
		)
	}
	return nil
}
