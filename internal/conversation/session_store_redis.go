package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionKeyPrefix = "booking_session:"

// RedisSessionStore persists sessions as JSON so conversations survive
// restarts and are shared between API instances. A zero ttl keeps sessions
// until they are reset.
type RedisSessionStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &RedisSessionStore{
		redis:  client,
		tracer: otel.Tracer("resthouse.internal.conversation.sessions"),
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errSessionIDRequired
	}
	ctx, span := s.tracer.Start(ctx, "conversation.session.get")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(id), nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: decode session: %w", err)
	}
	session.SessionID = id
	if session.Stage == "" {
		session.Stage = StageInitial
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	if session == nil || session.SessionID == "" {
		return errSessionIDRequired
	}
	ctx, span := s.tracer.Start(ctx, "conversation.session.save")
	defer span.End()

	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(session.SessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: persist session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Reset(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.session.reset")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
