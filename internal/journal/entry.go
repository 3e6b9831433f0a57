package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// Status is the outcome recorded for a dispatch.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	// StatusTimeout marks a dispatch whose state was published but whose
	// subscribers did not settle in time.
	StatusTimeout Status = "timeout"
	StatusFailed  Status = "failed"
)

// Entry is one journaled dispatch. Payload holds canonical JSON. Digest is
// empty until the dispatch publishes.
type Entry struct {
	ID         string `json:"id"`
	StoreID    string `json:"store_id"`
	Seq        int64  `json:"seq"`
	ParentID   string `json:"parent_id,omitempty"`
	Kind       string `json:"kind"`
	ActionType string `json:"action_type"`
	Payload    string `json:"payload"`
	Strategy   string `json:"strategy"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// Begin records a dispatch as pending. Duplicate IDs are ignored.
func (j *Journal) Begin(ctx context.Context, e Entry) error {
	if e.Status == "" {
		e.Status = StatusPending
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO dispatches
		(id, store_id, seq, parent_id, kind, action_type, payload, strategy, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.StoreID,
		e.Seq,
		nullString(e.ParentID),
		e.Kind,
		e.ActionType,
		e.Payload,
		e.Strategy,
		string(e.Status),
		nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("begin dispatch %s: %w", e.ID, err)
	}
	return nil
}

// Finish records the outcome of a dispatch and, when digest is non-empty,
// the state digest it published.
func (j *Journal) Finish(ctx context.Context, id string, status Status, errMsg, digest string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish dispatch %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE dispatches SET status = ?, error = ? WHERE id = ?
	`, string(status), nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("finish dispatch %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish dispatch %s: %w", id, sql.ErrNoRows)
	}

	if digest != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO publishes (dispatch_id, seq, digest)
			SELECT id, seq, ? FROM dispatches WHERE id = ?
			ON CONFLICT(dispatch_id) DO NOTHING
		`, digest, id); err != nil {
			return fmt.Errorf("finish dispatch %s: record publish: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish dispatch %s: commit: %w", id, err)
	}
	return nil
}

// Entries lists journaled dispatches in seq order. An empty storeID lists
// every store. Returns an empty slice, not nil, when nothing is recorded.
func (j *Journal) Entries(ctx context.Context, storeID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT d.id, d.store_id, d.seq, d.parent_id, d.kind, d.action_type,
		       d.payload, d.strategy, d.status, d.error, p.digest
		FROM dispatches d
		LEFT JOIN publishes p ON p.dispatch_id = d.id
		WHERE ? = '' OR d.store_id = ?
		ORDER BY d.seq ASC, d.id COLLATE BINARY ASC
	`, storeID, storeID)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var status string
		var parent, errMsg, digest sql.NullString
		if err := rows.Scan(&e.ID, &e.StoreID, &e.Seq, &parent, &e.Kind, &e.ActionType,
			&e.Payload, &e.Strategy, &status, &errMsg, &digest); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		e.Status = Status(status)
		e.ParentID = parent.String
		e.Error = errMsg.String
		e.Digest = digest.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return entries, nil
}

// Stores lists the store IDs present in the journal.
func (j *Journal) Stores(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT DISTINCT store_id FROM dispatches ORDER BY store_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
