package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/helmsman-ai/helmsman/core"
)

func errSessionNotFound(id string) error {
	return fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
}

// RedisManager is the distributed Manager used when REDIS_URL is
// configured. Sessions survive process restarts and are shared
// across replicas.
type RedisManager struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
}

// NewRedisManager connects to Redis and verifies the connection.
func NewRedisManager(redisURL string, ttl time.Duration, maxMessages int) (*RedisManager, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxMessages <= 0 {
		maxMessages = 100
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w: %v", core.ErrConnectionFailed, err)
	}

	return &RedisManager{client: client, ttl: ttl, maxMessages: maxMessages}, nil
}

func (r *RedisManager) Create(ctx context.Context, metadata map[string]interface{}) (*Session, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Topics:    []string{},
		Metadata:  metadata,
	}

	hashData := map[string]interface{}{
		"id":            s.ID,
		"created_at":    s.CreatedAt.Unix(),
		"updated_at":    s.UpdatedAt.Unix(),
		"message_count": 0,
	}
	if metadataJSON, err := json.Marshal(s.Metadata); err == nil {
		hashData["metadata"] = string(metadataJSON)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.sessionKey(s.ID), hashData)
	pipe.Expire(ctx, r.sessionKey(s.ID), r.ttl)
	pipe.SAdd(ctx, r.activeKey(), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (r *RedisManager) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.HGetAll(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(data) == 0 {
		return nil, errSessionNotFound(sessionID)
	}
	return parseSession(sessionID, data), nil
}

func (r *RedisManager) Delete(ctx context.Context, sessionID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.Del(ctx, r.messagesKey(sessionID))
	pipe.Del(ctx, r.topicsKey(sessionID))
	pipe.SRem(ctx, r.activeKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisManager) AddMessage(ctx context.Context, sessionID string, msg Message) error {
	msg.ID = uuid.New().String()
	msg.SessionID = sessionID
	msg.Timestamp = time.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.RPush(ctx, r.messagesKey(sessionID), data)
	pipe.LTrim(ctx, r.messagesKey(sessionID), -int64(r.maxMessages), -1)
	pipe.HIncrBy(ctx, r.sessionKey(sessionID), "message_count", 1)
	pipe.HSet(ctx, r.sessionKey(sessionID), "updated_at", msg.Timestamp.Unix())
	for _, topic := range ExtractTopics(msg.Content) {
		pipe.SAdd(ctx, r.topicsKey(sessionID), topic)
	}
	pipe.Expire(ctx, r.sessionKey(sessionID), r.ttl)
	pipe.Expire(ctx, r.messagesKey(sessionID), r.ttl)
	pipe.Expire(ctx, r.topicsKey(sessionID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

func (r *RedisManager) GetMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	start := -int64(limit)
	if limit <= 0 {
		start = 0
	}

	results, err := r.client.LRange(ctx, r.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	messages := make([]Message, 0, len(results))
	for _, raw := range results {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue // skip corrupt entries
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *RedisManager) ListActive(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (r *RedisManager) Close() error { return r.client.Close() }

func (r *RedisManager) sessionKey(id string) string  { return "helmsman:session:" + id }
func (r *RedisManager) messagesKey(id string) string { return "helmsman:session:" + id + ":messages" }
func (r *RedisManager) topicsKey(id string) string   { return "helmsman:session:" + id + ":topics" }
func (r *RedisManager) activeKey() string            { return "helmsman:sessions:active" }

func parseSession(id string, data map[string]string) *Session {
	s := &Session{ID: id, Topics: []string{}, Metadata: map[string]interface{}{}}
	if v, err := strconv.ParseInt(data["created_at"], 10, 64); err == nil {
		s.CreatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(data["updated_at"], 10, 64); err == nil {
		s.UpdatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.Atoi(data["message_count"]); err == nil {
		s.MessageCount = v
	}
	if raw, ok := data["metadata"]; ok {
		_ = json.Unmarshal([]byte(raw), &s.Metadata)
	}
	return s
}
