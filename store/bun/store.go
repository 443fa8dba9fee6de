// Package bunstore implements session.Store on PostgreSQL via the Bun
// ORM. Schema migrations are embedded and applied by Migrate.
package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/colloquy"
	"github.com/xraph/colloquy/id"
	"github.com/xraph/colloquy/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time interface checks.
var (
	_ session.Store   = (*Store)(nil)
	_ colloquy.Storer = (*Store)(nil)
)

// Store is a Bun ORM implementation of session.Store using PostgreSQL
// dialect. The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewFromDSN opens a PostgreSQL connection for the given DSN and wraps
// it in a Store. Use New directly to share an existing *bun.DB.
func NewFromDSN(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return New(bun.NewDB(sqldb, pgdialect.New()), opts...)
}

// New creates a new Bun store. The caller owns the db lifecycle; the
// Store will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	// Create migrations tracking table.
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS colloquy_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("colloquy/bun: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("colloquy/bun: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM colloquy_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("colloquy/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("colloquy/bun: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("colloquy/bun: execute migration %s: %w", entry.Name(), execErr)
		}

		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO colloquy_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("colloquy/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// InsertSession persists a new session snapshot.
func (s *Store) InsertSession(ctx context.Context, snap *session.Snapshot) error {
	m := toSessionModel(snap)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return colloquy.ErrSessionAlreadyExists
		}
		return fmt.Errorf("colloquy/bun: insert session: %w", err)
	}
	return nil
}

// UpdateSessionStatus persists a status transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID id.SessionID, status session.Status) error {
	res, err := s.db.NewUpdate().Model((*sessionModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", sessionID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("colloquy/bun: update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return colloquy.ErrSessionNotFound
	}
	return nil
}

// GetSession retrieves a session snapshot by ID.
func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Snapshot, error) {
	m := new(sessionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", sessionID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, colloquy.ErrSessionNotFound
		}
		return nil, fmt.Errorf("colloquy/bun: get session: %w", err)
	}
	return fromSessionModel(m)
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// InsertMessage persists one appended turn record.
func (s *Store) InsertMessage(ctx context.Context, msg *session.Message) error {
	m := toMessageModel(msg)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("colloquy/bun: insert message: %w", err)
	}
	return nil
}

// ListMessages returns messages with turn greater than sinceTurn,
// ordered by turn ascending. limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, sessionID id.SessionID, sinceTurn, limit int) ([]*session.Message, error) {
	var models []messageModel
	q := s.db.NewSelect().Model(&models).
		Where("session_id = ?", sessionID.String()).
		Where("turn > ?", sinceTurn).
		Order("turn ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("colloquy/bun: list messages: %w", err)
	}

	out := make([]*session.Message, 0, len(models))
	for i := range models {
		msg, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, msg)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

// CreateTask records the start of a processing attempt.
func (s *Store) CreateTask(ctx context.Context, task *session.Task) error {
	m := toTaskModel(task)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("colloquy/bun: create task: %w", err)
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
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().Model((*taskModel)(nil)).
		Set("state = ?", string(state)).
		Set("error = ?", reason).
		Set("finished_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", taskID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("colloquy/bun: resolve task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return colloquy.ErrTaskNotFound
	}
	return nil
}
