package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"attendsync/internal/mirror"
)

// MirrorBackend stores mirror documents as JSONB rows guarded by a version
// column. It satisfies mirror.Backend.
type MirrorBackend struct {
	db *DB
}

func (d *DB) Mirror() *MirrorBackend {
	return &MirrorBackend{db: d}
}

func (m *MirrorBackend) Load(ctx context.Context, userID string) (mirror.Document, int64, error) {
	var (
		raw     []byte
		version int64
	)
	err := m.db.conn.QueryRowContext(ctx, `
		SELECT doc, version FROM mirror_documents WHERE user_id = $1
	`, userID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return mirror.Document{UserID: userID}, 0, nil
	}
	if err != nil {
		return mirror.Document{}, 0, fmt.Errorf("loading mirror document: %w", err)
	}

	var doc mirror.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return mirror.Document{}, 0, fmt.Errorf("decoding mirror document: %w", err)
	}
	return doc, version, nil
}

// CompareAndSwap writes doc if the row is still at version expected and
// appends the amplix movement to flush_log in the same transaction.
func (m *MirrorBackend) CompareAndSwap(ctx context.Context, userID string, expected int64, doc mirror.Document) (bool, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encoding mirror document: %w", err)
	}

	tx, err := m.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var previousAmplix int
	if expected == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO mirror_documents (user_id, doc, version)
			VALUES ($1, $2, 1)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, string(raw))
		if err != nil {
			return false, fmt.Errorf("inserting mirror document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	} else {
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE((doc->>'amplix')::int, 0)
			FROM mirror_documents
			WHERE user_id = $1 AND version = $2
			FOR UPDATE
		`, userID, expected).Scan(&previousAmplix)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("locking mirror document: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE mirror_documents
			SET doc = $3, version = version + 1, updated_at = now()
			WHERE user_id = $1 AND version = $2
		`, userID, expected, string(raw)); err != nil {
			return false, fmt.Errorf("updating mirror document: %w", err)
		}
	}

	if delta := doc.Amplix - previousAmplix; delta != 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flush_log (user_id, amplix_delta, version)
			VALUES ($1, $2, $3)
		`, userID, delta, expected+1); err != nil {
			return false, fmt.Errorf("recording flush: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing mirror document: %w", err)
	}
	return true, nil
}

// FlushedDelta sums the logged amplix movements for a user.
func (m *MirrorBackend) FlushedDelta(ctx context.Context, userID string) (int, error) {
	var total int
	err := m.db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amplix_delta), 0) FROM flush_log WHERE user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing flush log: %w", err)
	}
	return total, nil
}
