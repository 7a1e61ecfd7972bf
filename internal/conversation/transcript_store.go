package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix  = "chat_transcript:"
	defaultTranscriptTTL = 24 * time.Hour
)

// TranscriptMessage is one line of a chat transcript.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Stage     Stage     `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore keeps the recent turns of each chat session in a Redis list
// so reconnecting clients can replay them.
type TranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
}

// NewTranscriptStore returns nil when no Redis client is configured; a nil
// store accepts calls and does nothing.
func NewTranscriptStore(redisClient *redis.Client, ttl time.Duration) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	return &TranscriptStore{
		redis:       redisClient,
		tracer:      otel.Tracer("resthouse.internal.conversation.transcript"),
		ttl:         ttl,
		maxMessages: 200,
	}
}

func (s *TranscriptStore) Append(ctx context.Context, sessionID string, msg TranscriptMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if sessionID == "" {
		return errors.New("conversation: transcript session id required")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	key := transcriptKey(sessionID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript message: %w", err)
	}
	return nil
}

// List returns up to limit of the newest messages, oldest first. A limit of 0
// returns everything kept.
func (s *TranscriptStore) List(ctx context.Context, sessionID string, limit int64) ([]TranscriptMessage, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if sessionID == "" {
		return nil, errors.New("conversation: transcript session id required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := s.redis.LRange(ctx, transcriptKey(sessionID), start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []TranscriptMessage{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}

	out := make([]TranscriptMessage, 0, len(raw))
	for _, item := range raw {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Clear drops the transcript of a session.
func (s *TranscriptStore) Clear(ctx context.Context, sessionID string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, transcriptKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("conversation: clear transcript: %w", err)
	}
	return nil
}

func transcriptKey(sessionID string) string {
	return transcriptKeyPrefix + sessionID
}
