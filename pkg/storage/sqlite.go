// Package storage persists gate decisions; this file provides the SQLite
// implementation backing the decision log and its statistics queries.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"zonegate/pkg/config"
)

//go:embed migrations/001_initial.sql
var initialSchema string

const (
	flushInterval = 5 * time.Second
	batchSize     = 100
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	cfg        *config.StorageConfig
	metrics    MetricsRecorder
	buffer     chan *Decision
	stmtInsert *sql.Stmt
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// New creates a storage backend from the configuration. A disabled
// decision log yields a no-op storage.
func New(cfg *config.StorageConfig, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNoOpStorage(), nil
	}
	return NewSQLiteStorage(cfg, metrics)
}

// NewSQLiteStorage creates a new SQLite storage backend
func NewSQLiteStorage(cfg *config.StorageConfig, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil || cfg.DatabasePath == "" {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	stmtInsert, err := db.Prepare(`
		INSERT INTO decisions
		(timestamp, host, root, blocked, source, rule, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	s := &SQLiteStorage{
		db:         db,
		cfg:        cfg,
		metrics:    metrics,
		buffer:     make(chan *Decision, bufferSize),
		stmtInsert: stmtInsert,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogDecision records a gate decision (async, buffered). When the
// buffer is full the decision is dropped and counted; logging must
// never block the request path.
func (s *SQLiteStorage) LogDecision(ctx context.Context, decision *Decision) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if decision.Timestamp.IsZero() {
		decision.Timestamp = time.Now()
	}

	select {
	case s.buffer <- decision:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedDecision(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker batches buffered decisions into single transactions,
// flushing when the batch fills or the interval elapses. It drains the
// buffer and exits once the channel closes.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Decision, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("Failed to flush decision batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case decision, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, decision)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes a batch of decisions in a single transaction
func (s *SQLiteStorage) flushBatch(decisions []*Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsert)
	for _, decision := range decisions {
		var rule interface{}
		if decision.Rule != "" {
			rule = decision.Rule
		}
		_, err := stmt.Exec(
			decision.Timestamp,
			decision.Host,
			decision.Root,
			decision.Blocked,
			decision.Source,
			rule,
			decision.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return nil
}

// Flush synchronously writes everything currently buffered. Intended
// for tests and shutdown paths that need the log durable now.
func (s *SQLiteStorage) Flush() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	batch := make([]*Decision, 0, batchSize)
	for {
		select {
		case decision := <-s.buffer:
			batch = append(batch, decision)
		default:
			return s.flushBatch(batch)
		}
	}
}

// RecentDecisions returns decisions ordered newest first
func (s *SQLiteStorage) RecentDecisions(ctx context.Context, limit, offset int) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, host, root, blocked, source, rule, duration_ms
		FROM decisions
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanDecisions(rows)
}

// DecisionsByHost returns the most recent decisions for a hostname
func (s *SQLiteStorage) DecisionsByHost(ctx context.Context, host string, limit int) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, host, root, blocked, source, rule, duration_ms
		FROM decisions
		WHERE host = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]*Decision, error) {
	decisions := []*Decision{}
	for rows.Next() {
		d := &Decision{}
		var rule sql.NullString
		if err := rows.Scan(
			&d.ID,
			&d.Timestamp,
			&d.Host,
			&d.Root,
			&d.Blocked,
			&d.Source,
			&rule,
			&d.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		d.Rule = rule.String
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return decisions, nil
}

// Stats returns aggregated decision statistics since the given time
func (s *SQLiteStorage) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		Since:    since,
		Until:    time.Now(),
		BySource: map[string]int64{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN blocked THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT host),
			COALESCE(AVG(duration_ms), 0)
		FROM decisions
		WHERE timestamp >= ?
	`, since).Scan(
		&stats.TotalDecisions,
		&stats.Blocked,
		&stats.UniqueHosts,
		&stats.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	if stats.TotalDecisions > 0 {
		stats.BlockRate = float64(stats.Blocked) / float64(stats.TotalDecisions) * 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*)
		FROM decisions
		WHERE timestamp >= ?
		GROUP BY source
	`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return stats, nil
}

// Cleanup removes decisions older than the cutoff
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM decisions WHERE timestamp < ?
	`, olderThan)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	rows, _ := result.RowsAffected()
	if rows > 10000 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			slog.Default().Warn("VACUUM after cleanup failed", "error", err)
		}
	}

	return nil
}

// Close flushes buffered decisions and closes the database
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.buffer)
	s.wg.Wait()

	if s.stmtInsert != nil {
		_ = s.stmtInsert.Close()
	}

	return s.db.Close()
}

// Ping checks if the storage is reachable
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.PingContext(ctx)
}
