// Package redis implements session.Store using Redis for
// high-throughput ephemeral deployments. Sessions and tasks are stored
// as Hashes; transcripts use a Sorted Set scored by turn number so
// since-turn queries map directly onto ZRANGEBYSCORE.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/session"
)

// Compile-time interface checks.
var (
	_ session.Store   = (*Store)(nil)
	_ colloquy.Storer = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements session.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op, the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// InsertSession stores the snapshot as a Hash and indexes its ID.
func (s *Store) InsertSession(ctx context.Context, snap *session.Snapshot) error {
	sID := snap.ID.String()
	key := sessionKey(sID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("colloquy/redis: insert session check exists: %w", err)
	}
	if exists > 0 {
		return colloquy.ErrSessionAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, sessionToMap(snap))
	pipe.SAdd(ctx, sessionIDsKey, sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("colloquy/redis: insert session: %w", err)
	}
	return nil
}

// UpdateSessionStatus persists a status transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID id.SessionID, status session.Status) error {
	key := sessionKey(sessionID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("colloquy/redis: update status check exists: %w", err)
	}
	if exists == 0 {
		return colloquy.ErrSessionNotFound
	}

	err = s.client.HSet(ctx, key,
		"status", string(status),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("colloquy/redis: update status: %w", err)
	}
	return nil
}

// GetSession retrieves a session snapshot by ID.
func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("colloquy/redis: get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, colloquy.ErrSessionNotFound
	}
	return sessionFromMap(fields)
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// InsertMessage appends the message JSON to the transcript Sorted Set,
// scored by turn.
func (s *Store) InsertMessage(ctx context.Context, msg *session.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("colloquy/redis: marshal message: %w", err)
	}
	err = s.client.ZAdd(ctx, messagesKey(msg.SessionID.String()), goredis.Z{
		Score:  float64(msg.Turn),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("colloquy/redis: insert message: %w", err)
	}
	return nil
}

// ListMessages returns messages with turn greater than sinceTurn,
// ordered by turn ascending. limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, sessionID id.SessionID, sinceTurn, limit int) ([]*session.Message, error) {
	rangeBy := &goredis.ZRangeBy{
		Min: "(" + strconv.Itoa(sinceTurn),
		Max: "+inf",
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	members, err := s.client.ZRangeByScore(ctx, messagesKey(sessionID.String()), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("colloquy/redis: list messages: %w", err)
	}

	out := make([]*session.Message, 0, len(members))
	for _, member := range members {
		var msg session.Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			return nil, fmt.Errorf("colloquy/redis: unmarshal message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

// CreateTask stores the task as a Hash.
func (s *Store) CreateTask(ctx context.Context, task *session.Task) error {
	err := s.client.HSet(ctx, taskKey(task.ID.String()), taskToMap(task)).Err()
	if err != nil {
		return fmt.Errorf("colloquy/redis: create task: %w", err)
	}
	return nil
}

// CompleteTask marks a task completed.
func (s *Store) CompleteTask(ctx context.Context, taskID id.TaskID) error {
	return s.resolveTask(ctx, taskID, session.TaskCompleted, "")
}

// FailTask marks a task failed (or preempted) with a reason.
func (s *Store) FailTask(ctx context.Context, taskID id.TaskID, reason string) error {
	return s.resolveTask(ctx, taskID, session.TaskFailed, reason)
}

func (s *Store) resolveTask(ctx context.Context, taskID id.TaskID, state session.TaskState, reason string) error {
	key := taskKey(taskID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("colloquy/redis: resolve task check exists: %w", err)
	}
	if exists == 0 {
		return colloquy.ErrTaskNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = s.client.HSet(ctx, key,
		"state", string(state),
		"error", reason,
		"finished_at", now,
		"updated_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("colloquy/redis: resolve task: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Hash codecs
// ──────────────────────────────────────────────────

func sessionToMap(snap *session.Snapshot) map[string]any {
	return map[string]any{
		"id":                snap.ID.String(),
		"owner":             snap.Owner,
		"tenant":            snap.Tenant,
		"title":             snap.Title,
		"status":            string(snap.Status),
		"model_hint":        snap.Config.ModelHint,
		"responder_timeout": snap.Config.ResponderTimeout.String(),
		"turn":              snap.Turn,
		"created_at":        snap.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        snap.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func sessionFromMap(fields map[string]string) (*session.Snapshot, error) {
	sessionID, err := id.ParseSessionID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("colloquy/redis: parse session id: %w", err)
	}

	snap := &session.Snapshot{
		ID:     sessionID,
		Owner:  fields["owner"],
		Tenant: fields["tenant"],
		Title:  fields["title"],
		Status: session.Status(fields["status"]),
	}
	snap.Config.ModelHint = fields["model_hint"]
	if v := fields["responder_timeout"]; v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			snap.Config.ResponderTimeout = d
		}
	}
	if v := fields["turn"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Turn = n
		}
	}
	if v := fields["created_at"]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			snap.CreatedAt = ts
		}
	}
	if v := fields["updated_at"]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			snap.UpdatedAt = ts
		}
	}
	return snap, nil
}

func taskToMap(task *session.Task) map[string]any {
	m := map[string]any{
		"id":         task.ID.String(),
		"session_id": task.SessionID.String(),
		"turn":       task.Turn,
		"state":      string(task.State),
		"error":      task.Error,
		"started_at": task.StartedAt.Format(time.RFC3339Nano),
		"created_at": task.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": task.UpdatedAt.Format(time.RFC3339Nano),
	}
	if task.FinishedAt != nil {
		m["finished_at"] = task.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}
