// Package store is the Record Store: a SQLite table of thoughts that
// announces every committed change on the change feed.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when no thought has the requested id.
	ErrNotFound = errors.New("thought not found")

	// ErrInsightExists is returned by UpdateInsightIfAbsent when the
	// thought already carries an insight.
	ErrInsightExists = errors.New("thought already has an insight")
)

// Notifier receives every committed change.
type Notifier interface {
	Publish(ctx context.Context, ev thought.ChangeEvent) error
}

// Store provides durable storage for thoughts.
// Uses SQLite with WAL mode and a single connection.
type Store struct {
	db       *sql.DB
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier publishes change events to n after each write.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens a SQLite database at the given path.
// The parent directory is created if missing.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Single writer; every statement is a single-row atomic write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

const returningColumns = "RETURNING id, content, created_at, ai_insight"

// Insert stores a new thought with content exactly as given. Blank content
// is rejected with thought.ErrEmptyContent.
func (s *Store) Insert(ctx context.Context, content string) (*thought.Thought, error) {
	if err := thought.ValidateContent(content); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"INSERT INTO thoughts (content, created_at) VALUES (?, ?) "+returningColumns,
		content, s.now().UTC().UnixNano(),
	)
	t, err := scanThought(row)
	if err != nil {
		return nil, fmt.Errorf("insert thought: %w", err)
	}

	s.notify(ctx, thought.NewChangeEvent(thought.EventInsert, t, nil))
	return t, nil
}

// UpdateInsight overwrites the insight of thought id. Last writer wins.
func (s *Store) UpdateInsight(ctx context.Context, id int64, insight string) (*thought.Thought, error) {
	row := s.db.QueryRowContext(ctx,
		"UPDATE thoughts SET ai_insight = ? WHERE id = ? "+returningColumns,
		insight, id,
	)
	t, err := scanThought(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update thought %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update thought %d: %w", id, err)
	}

	s.notify(ctx, thought.NewChangeEvent(thought.EventUpdate, t, &thought.Thought{ID: id}))
	return t, nil
}

// UpdateInsightIfAbsent writes the insight only when none is set yet.
func (s *Store) UpdateInsightIfAbsent(ctx context.Context, id int64, insight string) (*thought.Thought, error) {
	row := s.db.QueryRowContext(ctx,
		"UPDATE thoughts SET ai_insight = ? WHERE id = ? AND ai_insight IS NULL "+returningColumns,
		insight, id,
	)
	t, err := scanThought(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, fmt.Errorf("update thought %d: %w", id, getErr)
		}
		return nil, fmt.Errorf("update thought %d: %w", id, ErrInsightExists)
	}
	if err != nil {
		return nil, fmt.Errorf("update thought %d: %w", id, err)
	}

	s.notify(ctx, thought.NewChangeEvent(thought.EventUpdate, t, &thought.Thought{ID: id}))
	return t, nil
}

// Get returns thought id.
func (s *Store) Get(ctx context.Context, id int64) (*thought.Thought, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, content, created_at, ai_insight FROM thoughts WHERE id = ?", id)
	t, err := scanThought(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thought %d: %w", id, err)
	}
	return t, nil
}

// List returns every thought, newest first.
func (s *Store) List(ctx context.Context) ([]*thought.Thought, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, created_at, ai_insight FROM thoughts ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list thoughts: %w", err)
	}
	defer rows.Close()

	thoughts := make([]*thought.Thought, 0)
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thought: %w", err)
		}
		thoughts = append(thoughts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list thoughts: %w", err)
	}
	return thoughts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThought(r scanner) (*thought.Thought, error) {
	var (
		t       thought.Thought
		created int64
		insight sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Content, &created, &insight); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	if insight.Valid {
		t.AIInsight = thought.StringPtr(insight.String)
	}
	return &t, nil
}

// notify publishes ev. A failed publish is logged and the write stands.
func (s *Store) notify(ctx context.Context, ev thought.ChangeEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn("change event not published",
			zap.String("event_id", ev.EventID),
			zap.String("type", string(ev.Type)),
			zap.Int64("thought_id", ev.New.ID),
			zap.Error(err),
		)
	}
}
