package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
)

// DBPool abstracts pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

var findingColumns = []string{
	"id", "session_id", "task_id", "target", "module", "category", "severity",
	"state", "path", "description", "confidence", "evidence", "observed_at",
}

const sqlUpsertSession = `
        INSERT INTO sessions (session_id, stage, task_id, target, started_at, ended_at, alphabet_size, states,
            complete, blacklisted, abort, queries, live_queries, conflicts, restarts, final_timeout_ms,
            findings, truncated, model)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
        ON CONFLICT (session_id, stage) DO UPDATE SET
            ended_at = EXCLUDED.ended_at,
            states = EXCLUDED.states,
            complete = EXCLUDED.complete,
            blacklisted = EXCLUDED.blacklisted,
            abort = EXCLUDED.abort,
            queries = EXCLUDED.queries,
            live_queries = EXCLUDED.live_queries,
            conflicts = EXCLUDED.conflicts,
            restarts = EXCLUDED.restarts,
            final_timeout_ms = EXCLUDED.final_timeout_ms,
            findings = EXCLUDED.findings,
            truncated = EXCLUDED.truncated,
            model = EXCLUDED.model;
    `

const sqlGetFindings = `
        SELECT id, task_id, observed_at, target, module, category, severity, state, path, description, confidence, evidence
        FROM findings
        WHERE session_id = $1
        ORDER BY observed_at ASC;
    `

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistData stores the findings and session summaries of one envelope in a single
// transaction.
func (s *Store) PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	// Sessions go first so findings never reference a missing session row.
	for _, summary := range envelope.Sessions {
		if err := s.persistSession(ctx, tx, summary); err != nil {
			return err
		}
	}

	if len(envelope.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, envelope.SessionID, envelope.Findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistSession(ctx context.Context, tx pgx.Tx, sm schemas.SessionSummary) error {
	_, err := tx.Exec(ctx, sqlUpsertSession,
		sm.SessionID, sm.Stage, sm.TaskID, sm.Target,
		sm.StartedAt.UTC(), sm.EndedAt.UTC(),
		sm.AlphabetSize, sm.States, sm.Complete, sm.Blacklisted, sm.Abort,
		sm.Queries, sm.LiveQueries, sm.Conflicts, sm.Restarts,
		sm.FinalTimeout.Milliseconds(), sm.Findings, sm.Truncated, sm.Model,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s stage %d: %w", sm.SessionID, sm.Stage, err)
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, sessionID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		evidence := f.Evidence
		if len(evidence) == 0 || string(evidence) == "null" {
			evidence = json.RawMessage("{}")
		}
		sid := f.SessionID
		if sid == "" {
			sid = sessionID
		}
		rows[i] = []interface{}{
			f.ID, sid, f.TaskID, f.Target, f.Module, f.Category,
			string(f.Severity), f.State, f.Path, f.Description, f.Confidence,
			evidence,
			f.ObservedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// GetFindingsBySessionID returns the findings of a session in observation order.
func (s *Store) GetFindingsBySessionID(ctx context.Context, sessionID string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, sqlGetFindings, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		var severity string

		err := rows.Scan(
			&f.ID, &f.TaskID, &f.ObservedAt, &f.Target, &f.Module, &f.Category,
			&severity, &f.State, &f.Path, &f.Description, &f.Confidence, &f.Evidence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}

		f.Severity = schemas.ParseSeverity(severity)
		f.SessionID = sessionID
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
