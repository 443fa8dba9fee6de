package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/session"
)

// ── Session model ─────────────────────────────────────────────────

type sessionModel struct {
	bun.BaseModel `bun:"table:colloquy_sessions"`

	ID               string    `bun:"id,pk"`
	Owner            string    `bun:"owner,notnull"`
	Tenant           string    `bun:"tenant"`
	Title            string    `bun:"title"`
	Status           string    `bun:"status,notnull,default:'active'"`
	ModelHint        string    `bun:"model_hint"`
	ResponderTimeout int64     `bun:"responder_timeout,notnull,default:0"`
	Turn             int       `bun:"turn,notnull,default:0"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSessionModel(snap *session.Snapshot) *sessionModel {
	return &sessionModel{
		ID:               snap.ID.String(),
		Owner:            snap.Owner,
		Tenant:           snap.Tenant,
		Title:            snap.Title,
		Status:           string(snap.Status),
		ModelHint:        snap.Config.ModelHint,
		ResponderTimeout: snap.Config.ResponderTimeout.Nanoseconds(),
		Turn:             snap.Turn,
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
	}
}

func fromSessionModel(m *sessionModel) (*session.Snapshot, error) {
	parsedID, err := id.ParseSessionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("colloquy/bun: parse session id %q: %w", m.ID, err)
	}

	snap := &session.Snapshot{
		Entity: colloquy.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:     parsedID,
		Owner:  m.Owner,
		Tenant: m.Tenant,
		Title:  m.Title,
		Status: session.Status(m.Status),
		Turn:   m.Turn,
	}
	snap.Config.ModelHint = m.ModelHint
	snap.Config.ResponderTimeout = time.Duration(m.ResponderTimeout)
	return snap, nil
}

// ── Message model ─────────────────────────────────────────────────

type messageModel struct {
	bun.BaseModel `bun:"table:colloquy_messages"`

	ID          string    `bun:"id,pk"`
	SessionID   string    `bun:"session_id,notnull"`
	Turn        int       `bun:"turn,notnull"`
	Role        string    `bun:"role,notnull"`
	Content     string    `bun:"content,notnull"`
	ContentType string    `bun:"content_type,notnull,default:'text/plain'"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toMessageModel(msg *session.Message) *messageModel {
	return &messageModel{
		ID:          msg.ID.String(),
		SessionID:   msg.SessionID.String(),
		Turn:        msg.Turn,
		Role:        string(msg.Role),
		Content:     msg.Content,
		ContentType: msg.ContentType,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

func fromMessageModel(m *messageModel) (*session.Message, error) {
	msgID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("colloquy/bun: parse message id %q: %w", m.ID, err)
	}
	sessionID, err := id.ParseSessionID(m.SessionID)
	if err != nil {
		return nil, fmt.Errorf("colloquy/bun: parse session id %q: %w", m.SessionID, err)
	}

	return &session.Message{
		Entity: colloquy.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          msgID,
		SessionID:   sessionID,
		Turn:        m.Turn,
		Role:        session.Role(m.Role),
		Content:     m.Content,
		ContentType: m.ContentType,
	}, nil
}

// ── Task model ────────────────────────────────────────────────────

type taskModel struct {
	bun.BaseModel `bun:"table:colloquy_tasks"`

	ID         string     `bun:"id,pk"`
	SessionID  string     `bun:"session_id,notnull"`
	Turn       int        `bun:"turn,notnull"`
	State      string     `bun:"state,notnull,default:'running'"`
	Error      string     `bun:"error"`
	StartedAt  time.Time  `bun:"started_at,notnull,default:current_timestamp"`
	FinishedAt *time.Time `bun:"finished_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toTaskModel(task *session.Task) *taskModel {
	return &taskModel{
		ID:         task.ID.String(),
		SessionID:  task.SessionID.String(),
		Turn:       task.Turn,
		State:      string(task.State),
		Error:      task.Error,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
		CreatedAt:  task.CreatedAt,
		UpdatedAt:  task.UpdatedAt,
	}
}
