package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxStreamLen caps each channel's stream; older entries are trimmed approximately
const maxStreamLen = 10000

// StreamEvent represents an event stored in Redis Streams
type StreamEvent struct {
	Channel   string                 `json:"channel"`
	Sequence  int64                  `json:"seq"`
	Event     map[string]interface{} `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
}

// Streams manages Redis Streams for event replay
type Streams struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewStreams creates a new Streams manager
func NewStreams(rdb *redis.Client, log *zap.Logger) *Streams {
	return &Streams{rdb: rdb, log: log}
}

func streamKey(channel string) string { return "stream:" + channel }

// streamID encodes the channel sequence as the entry id, so replay can
// start at an exact sequence.
func streamID(seq int64) string { return fmt.Sprintf("0-%d", seq) }

// PublishEvent appends an event to the channel's stream and returns its sequence number.
func (s *Streams) PublishEvent(ctx context.Context, channel string, event map[string]interface{}) (int64, error) {
	seq, err := s.rdb.Incr(ctx, "seq:"+channel).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(channel),
		ID:     streamID(seq),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":      string(eventData),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add to stream: %w", err)
	}

	s.log.Debug("Published event to stream",
		zap.String("channel", channel),
		zap.Int64("sequence", seq),
		zap.String("stream_id", id),
	)
	return seq, nil
}

// GetLastSequence gets the last acknowledged sequence for a channel and consumer
func (s *Streams) GetLastSequence(ctx context.Context, channel, consumerID string) (int64, error) {
	seqStr, err := s.rdb.Get(ctx, ackKey(channel, consumerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last sequence: %w", err)
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse sequence: %w", err)
	}
	return seq, nil
}

// AcknowledgeSequence records that a consumer has handled everything up to sequence
func (s *Streams) AcknowledgeSequence(ctx context.Context, channel, consumerID string, sequence int64) error {
	if err := s.rdb.Set(ctx, ackKey(channel, consumerID), sequence, 0).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge sequence: %w", err)
	}
	s.log.Debug("Acknowledged sequence",
		zap.String("channel", channel),
		zap.String("consumer", consumerID),
		zap.Int64("sequence", sequence),
	)
	return nil
}

func ackKey(channel, consumerID string) string {
	return fmt.Sprintf("ack:%s:%s", channel, consumerID)
}

// ReplayEvents returns up to limit events with a sequence greater than sinceSeq.
func (s *Streams) ReplayEvents(ctx context.Context, channel string, sinceSeq int64, limit int64) ([]StreamEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.rdb.XRangeN(ctx, streamKey(channel), streamID(sinceSeq+1), "+", limit).Result()
	if errors.Is(err, redis.Nil) {
		return []StreamEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]StreamEvent, 0, len(msgs))
	for _, msg := range msgs {
		seq, err := parseStreamID(msg.ID)
		if err != nil {
			s.log.Warn("Skipping stream entry", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.log.Warn("Failed to unmarshal event", zap.Error(err))
			continue
		}
		var timestamp time.Time
		if ts, ok := msg.Values["timestamp"].(string); ok {
			timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		events = append(events, StreamEvent{
			Channel:   channel,
			Sequence:  seq,
			Event:     event,
			Timestamp: timestamp,
		})
	}
	return events, nil
}

// parseStreamID returns the sequence part of a stream id (milliseconds-sequence)
func parseStreamID(id string) (int64, error) {
	for i := len(id) - 1; i > 0; i-- {
		if id[i] == '-' {
			seq, err := strconv.ParseInt(id[i+1:], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("failed to parse sequence: %w", err)
			}
			return seq, nil
		}
	}
	return 0, fmt.Errorf("invalid stream ID format: %q", id)
}
